package notifier

import (
	"context"
	"time"

	"pushstream/internal/push"
	"pushstream/internal/storage"
)

// Config controls the async delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	SendTimeout   time.Duration
}

// Notification is what deliverers receive for one event.
type Notification struct {
	EventID   string
	Title     string
	Body      string
	Source    string
	CreatedAt push.Timestamp
}

func notificationFor(ev push.Event) Notification {
	return Notification{
		EventID:   ev.ID,
		Title:     ev.Title(),
		Body:      ev.Content,
		Source:    ev.Source,
		CreatedAt: ev.CreatedAt,
	}
}

// Deliverer shows a notification somewhere.
type Deliverer interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Ledger is the append side of storage.Store.
type Ledger interface {
	AppendLedger(ctx context.Context, e storage.LedgerEntry) error
}

type HistoryItem struct {
	At        time.Time
	EventID   string
	Deliverer string
	Err       string
}
