// Package ledger owns the item reports and their message threads.
//
// All mutations go through storage.UpdateAs, so a report and a message sent
// at the same moment are both kept. Threads are append-only: nothing in this
// package edits or removes a message once it is stored.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/lostfound/internal/metrics"
	"github.com/mmynk/lostfound/internal/models"
	"github.com/mmynk/lostfound/internal/storage"
)

var (
	ErrItemNotFound  = errors.New("item not found")
	ErrEmptyItemName = errors.New("item name is required")
	ErrEmptyMessage  = errors.New("message text is required")
	ErrEmptyUser     = errors.New("username is required")
)

// Report is the input to ReportItem.
type Report struct {
	ItemName    string
	Location    string
	ContactInfo string
	ReportedBy  string
	// Photo is the attachment reference, empty when no photo was uploaded.
	Photo string
}

// Ledger implements the item and message operations.
type Ledger struct {
	store   storage.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics records report and message counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger on top of store.
func New(store storage.Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With("component", "ledger")
	return l
}

// ReportItem creates the report keyed by r.ItemName with an empty thread and
// returns the stored item. A report with the same name is replaced entirely,
// thread included.
func (l *Ledger) ReportItem(ctx context.Context, r Report) (models.Item, error) {
	if r.ItemName == "" {
		return models.Item{}, ErrEmptyItemName
	}
	if r.ReportedBy == "" {
		return models.Item{}, ErrEmptyUser
	}

	item := models.Item{
		Location:    r.Location,
		ContactInfo: r.ContactInfo,
		ReportedBy:  r.ReportedBy,
		Messages:    []models.Message{},
		ReportedAt:  l.now().Unix(),
	}
	if r.Photo != "" {
		photo := r.Photo
		item.Photo = &photo
	}

	var (
		replaced  bool
		discarded int
	)
	err := storage.UpdateAs(ctx, l.store, storage.Items, func(items map[string]models.Item) error {
		if prev, ok := items[r.ItemName]; ok {
			replaced = true
			discarded = len(prev.Messages)
		}
		items[r.ItemName] = item
		return nil
	})
	if err != nil {
		return models.Item{}, fmt.Errorf("failed to report item: %w", err)
	}

	l.metrics.ItemReported(replaced)
	if replaced {
		l.logger.Warn("Item report replaced an existing report",
			"item", r.ItemName,
			"reported_by", r.ReportedBy,
			"discarded_messages", discarded,
		)
	} else {
		l.logger.Info("Item reported", "item", r.ItemName, "reported_by", r.ReportedBy)
	}
	return item, nil
}

// ListItems returns every report, unfiltered.
func (l *Ledger) ListItems(ctx context.Context) (map[string]models.Item, error) {
	items, err := storage.LoadAs[models.Item](ctx, l.store, storage.Items)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	for name, item := range items {
		if item.Messages == nil {
			item.Messages = []models.Message{}
			items[name] = item
		}
	}
	return items, nil
}

// GetItem returns a single report.
func (l *Ledger) GetItem(ctx context.Context, itemName string) (models.Item, error) {
	items, err := l.ListItems(ctx)
	if err != nil {
		return models.Item{}, err
	}
	item, ok := items[itemName]
	if !ok {
		return models.Item{}, fmt.Errorf("%w: %s", ErrItemNotFound, itemName)
	}
	return item, nil
}

// SendMessage appends a message to the thread of itemName.
// If the item does not exist nothing is written and ErrItemNotFound is returned.
func (l *Ledger) SendMessage(ctx context.Context, itemName, from, to, text string) (models.Message, error) {
	if itemName == "" {
		return models.Message{}, ErrEmptyItemName
	}
	if from == "" || to == "" {
		return models.Message{}, ErrEmptyUser
	}
	if strings.TrimSpace(text) == "" {
		return models.Message{}, ErrEmptyMessage
	}

	msg := models.Message{
		ID:     uuid.New().String(),
		From:   from,
		To:     to,
		Text:   text,
		SentAt: l.now().Unix(),
	}

	err := storage.UpdateAs(ctx, l.store, storage.Items, func(items map[string]models.Item) error {
		item, ok := items[itemName]
		if !ok {
			return fmt.Errorf("%w: %s", ErrItemNotFound, itemName)
		}
		item.Messages = append(item.Messages, msg)
		items[itemName] = item
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			l.logger.Warn("Message for unknown item rejected", "item", itemName, "from", from)
			return models.Message{}, err
		}
		return models.Message{}, fmt.Errorf("failed to send message: %w", err)
	}

	l.metrics.MessageSent()
	l.logger.Info("Message sent", "item", itemName, "from", from, "to", to, "message_id", msg.ID)
	return msg, nil
}

// SearchByName returns the reports whose name contains keyword, ignoring case.
// An empty keyword matches everything.
func (l *Ledger) SearchByName(ctx context.Context, keyword string) (map[string]models.Item, error) {
	items, err := l.ListItems(ctx)
	if err != nil {
		return nil, err
	}
	return FilterByName(items, keyword), nil
}

// FilterByName is the pure part of SearchByName.
func FilterByName(items map[string]models.Item, keyword string) map[string]models.Item {
	needle := strings.ToLower(keyword)
	matches := make(map[string]models.Item)
	for name, item := range items {
		if strings.Contains(strings.ToLower(name), needle) {
			matches[name] = item
		}
	}
	return matches
}
