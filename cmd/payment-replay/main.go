package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/quickshop/internal/domain"
	"github.com/vladislavdragonenkov/quickshop/internal/gateway/midtrans"
	"github.com/vladislavdragonenkov/quickshop/internal/service/payment"
	"github.com/vladislavdragonenkov/quickshop/internal/storage/postgres"
)

const (
	defaultTimeout = 2 * time.Minute
	envPostgresDSN = "QUICKSHOP_POSTGRES_DSN"
	envServerKey   = "QUICKSHOP_MIDTRANS_SERVER_KEY"
)

type config struct {
	dsn       string
	serverKey string
	orders    []string
	execute   bool
}

func readConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		cfg       config
		ordersRaw string
	)
	env := func(name string) string {
		v, _ := lookup(name)
		return strings.TrimSpace(v)
	}

	fs := flag.NewFlagSet("payment-replay", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.dsn, "dsn", env(envPostgresDSN), "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.StringVar(&cfg.serverKey, "server-key", env(envServerKey), "Midtrans server key (fallback: "+envServerKey+")")
	fs.StringVar(&ordersRaw, "orders", "", "comma-separated order numbers to replay")
	fs.BoolVar(&cfg.execute, "execute", false, "apply logged notifications; default is dry-run")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, number := range strings.Split(ordersRaw, ",") {
		if number = strings.TrimSpace(number); number != "" {
			cfg.orders = append(cfg.orders, number)
		}
	}
	cfg.dsn = strings.TrimSpace(cfg.dsn)
	cfg.serverKey = strings.TrimSpace(cfg.serverKey)

	switch {
	case cfg.dsn == "":
		return config{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	case cfg.serverKey == "":
		return config{}, fmt.Errorf("%s (or -server-key) is required", envServerKey)
	case len(cfg.orders) == 0:
		return config{}, errors.New("at least one order number is required (-orders)")
	}
	return cfg, nil
}

// replayer повторно применяет уведомления из журнала оплат.
// В dry-run ничего не пишет и показывает, к какому состоянию привело бы применение.
type replayer struct {
	orders    domain.OrderRepository
	logs      domain.PaymentLogRepository
	processor *payment.Processor
	serverKey string
	out       io.Writer
	now       func() time.Time
}

type replaySummary struct {
	entries  int
	applied  int
	changed  int
	rejected int
}

func (r *replayer) replayOrder(ctx context.Context, orderNumber string, execute bool) (replaySummary, error) {
	var summary replaySummary

	order, err := r.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return summary, fmt.Errorf("load order %s: %w", orderNumber, err)
	}
	entries, err := r.logs.ListByOrder(ctx, order.ID)
	if err != nil {
		return summary, fmt.Errorf("list payment logs for %s: %w", orderNumber, err)
	}
	summary.entries = len(entries)
	fmt.Fprintf(r.out, "order %s: status=%s payment=%s logs=%d\n", orderNumber, order.Status, order.PaymentStatus, len(entries))

	simulated := order
	for _, entry := range entries {
		var n domain.PaymentNotification
		if err := json.Unmarshal(entry.RawPayload, &n); err != nil {
			summary.rejected++
			fmt.Fprintf(r.out, "  %s: undecodable payload: %v\n", entry.ID, err)
			continue
		}
		if !midtrans.VerifySignature(n.OrderID, n.StatusCode, n.GrossAmount, n.SignatureKey, r.serverKey) {
			summary.rejected++
			fmt.Fprintf(r.out, "  %s: %s rejected, signature mismatch\n", entry.ID, n.TransactionStatus)
			continue
		}

		if !execute {
			outcome := domain.MapTransaction(n.TransactionStatus, n.FraudStatus)
			tr := domain.ApplyPaymentOutcome(simulated, outcome, n.PaymentType, r.now())
			if tr.Changed {
				summary.changed++
				simulated = tr.Order
			}
			summary.applied++
			fmt.Fprintf(r.out, "  %s: %s -> payment=%s status=%s changed=%t decrement=%t (dry-run)\n",
				entry.ID, n.TransactionStatus, tr.Order.PaymentStatus, tr.Order.Status, tr.Changed, tr.DecrementStock)
			continue
		}

		result, err := r.processor.Replay(ctx, entry)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidSignature) {
				summary.rejected++
				continue
			}
			return summary, fmt.Errorf("replay %s: %w", entry.ID, err)
		}
		summary.applied++
		if result.Transition.Changed {
			summary.changed++
		}
		fmt.Fprintf(r.out, "  %s: %s -> payment=%s status=%s changed=%t decrement_failures=%d\n",
			entry.ID, n.TransactionStatus, result.Order.PaymentStatus, result.Order.Status, result.Transition.Changed, result.DecrementFailures)
	}
	return summary, nil
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	orders := postgres.NewOrderRepository(store)
	logs := postgres.NewPaymentLogRepository(store)
	r := &replayer{
		orders: orders,
		logs:   logs,
		processor: payment.NewProcessor(orders, postgres.NewProductRepository(store), logs, cfg.serverKey,
			payment.WithLogger(log.WithField("component", "payment-replay"))),
		serverKey: cfg.serverKey,
		out:       out,
		now:       time.Now,
	}

	var failed []error
	for _, number := range cfg.orders {
		summary, err := r.replayOrder(ctx, number, cfg.execute)
		if err != nil {
			failed = append(failed, err)
			log.WithError(err).WithField("order_number", number).Error("payment replay failed")
			continue
		}
		log.WithFields(log.Fields{
			"order_number": number,
			"entries":      summary.entries,
			"applied":      summary.applied,
			"changed":      summary.changed,
			"rejected":     summary.rejected,
			"execute":      cfg.execute,
		}).Info("payment replay finished")
	}
	return errors.Join(failed...)
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := run(context.Background(), cfg, os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "payment replay failed: %v\n", err)
		os.Exit(1)
	}
}
