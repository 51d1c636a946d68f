package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// DeadLetter описывает событие заказа, которое так и не удалось доставить брокеру.
// Воркер outbox пишет его в DLQ, утилита повторной отправки читает обратно.
type DeadLetter struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	PublishError  string          `json:"publish_error"`
	FailedAt      time.Time       `json:"failed_at"`
}

// NewDeadLetter собирает письмо для DLQ из события и последней ошибки публикации.
func NewDeadLetter(msg OutboxMessage, publishErr error, now time.Time) DeadLetter {
	letter := DeadLetter{
		OutboxID:      msg.ID,
		AggregateType: msg.AggregateType,
		AggregateID:   msg.AggregateID,
		EventType:     msg.EventType,
		Payload:       json.RawMessage(msg.Payload),
		Attempts:      msg.Attempts,
		PublishError:  msg.LastError,
		FailedAt:      now.UTC(),
	}
	if publishErr != nil {
		letter.PublishError = publishErr.Error()
	}
	// Тело события сохраняется строкой, если это не JSON.
	if !json.Valid(msg.Payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		letter.Payload = quoted
	}
	return letter
}

// Message упаковывает письмо в событие для топика DLQ.
func (d DeadLetter) Message() (OutboxMessage, error) {
	payload, err := json.Marshal(d)
	if err != nil {
		return OutboxMessage{}, err
	}
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       payload,
		Attempts:      d.Attempts,
		LastError:     d.PublishError,
	}, nil
}

// Original восстанавливает исходное событие заказа.
func (d DeadLetter) Original() OutboxMessage {
	return OutboxMessage{
		ID:            d.OutboxID,
		AggregateType: d.AggregateType,
		AggregateID:   d.AggregateID,
		EventType:     d.EventType,
		Payload:       []byte(d.Payload),
	}
}

// Key возвращает ключ партиционирования: заказ, а при его отсутствии id события.
func (d DeadLetter) Key() string {
	if strings.TrimSpace(d.AggregateID) != "" {
		return d.AggregateID
	}
	return d.OutboxID
}
