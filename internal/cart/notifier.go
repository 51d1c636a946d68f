package cart

import log "github.com/sirupsen/logrus"

// Event задаёт тип уведомления о результате операции с корзиной.
type Event string

const (
	EventAdded             Event = "added"
	EventQuantityIncreased Event = "quantity_increased"
	EventRemoved           Event = "removed"
	EventOutOfStock        Event = "out_of_stock"
	EventInsufficientStock Event = "insufficient_stock"
)

// Notice описывает уведомление для пользователя.
type Notice struct {
	Event     Event
	ProductID string
	Name      string
	Message   string
}

// Notifier получает уведомления корзины. Вызывается вне блокировок корзины.
type Notifier interface {
	Notify(notice Notice)
}

// NotifierFunc позволяет использовать функцию как Notifier.
type NotifierFunc func(Notice)

func (f NotifierFunc) Notify(notice Notice) {
	f(notice)
}

// LogNotifier пишет уведомления в лог.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт Notifier поверх logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "cart")
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(notice Notice) {
	entry := n.logger.WithFields(log.Fields{
		"event":      string(notice.Event),
		"product_id": notice.ProductID,
	})
	if notice.Message != "" {
		entry = entry.WithField("detail", notice.Message)
	}
	switch notice.Event {
	case EventOutOfStock, EventInsufficientStock:
		entry.Warnf("cart: %s unavailable", notice.Name)
	default:
		entry.Infof("cart: %s", notice.Name)
	}
}
