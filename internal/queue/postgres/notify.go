package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Channel is the PostgreSQL NOTIFY channel used to wake workers.
const Channel = "build_jobs"

// Notifier implements queue.Notifier with LISTEN/NOTIFY.
// A notifier that never called Listen can still send notifications.
type Notifier struct {
	db     *gorm.DB
	logger *slog.Logger
	wake   chan struct{}

	mu       sync.Mutex
	listener *pq.Listener
	done     chan struct{}
}

// NewNotifier creates a notifier that sends through db.
func NewNotifier(db *gorm.DB, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		db:     db,
		logger: logger,
		wake:   make(chan struct{}, 1),
	}
}

// Listen subscribes to the channel on a dedicated connection.
func (n *Notifier) Listen(dsn string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener != nil {
		return nil
	}

	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			n.logger.Warn("queue listener event", "event", ev, "error", err)
		}
	})
	if err := listener.Listen(Channel); err != nil {
		listener.Close()
		return fmt.Errorf("listening on %s: %w", Channel, err)
	}

	n.listener = listener
	n.done = make(chan struct{})
	go n.forward(listener, n.done)

	n.logger.Info("listening for queue notifications", "channel", Channel)
	return nil
}

func (n *Notifier) forward(listener *pq.Listener, done chan struct{}) {
	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case _, ok := <-listener.Notify:
			if !ok {
				return
			}
			// A nil notification follows a reconnect; wake anyway since
			// notifications may have been missed.
			n.signal()
		case <-ping.C:
			go func() {
				if err := listener.Ping(); err != nil {
					n.logger.Warn("queue listener ping failed", "error", err)
				}
			}()
		}
	}
}

func (n *Notifier) signal() {
	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Notify announces new work. It is a no-op on databases without NOTIFY.
func (n *Notifier) Notify(ctx context.Context) error {
	if n.db.Dialector.Name() != "postgres" {
		n.signal()
		return nil
	}
	if err := n.db.WithContext(ctx).Exec("SELECT pg_notify(?, '')", Channel).Error; err != nil {
		return fmt.Errorf("sending notification: %w", err)
	}
	return nil
}

// Wake returns the channel that receives when work may be available.
func (n *Notifier) Wake() <-chan struct{} {
	return n.wake
}

// Close stops listening.
func (n *Notifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.listener == nil {
		return nil
	}
	close(n.done)
	err := n.listener.Close()
	n.listener = nil
	return err
}
