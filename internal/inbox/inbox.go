// Package inbox derives per-user views from the item ledger.
// Nothing here is stored; every call recomputes from the current snapshot.
package inbox

import (
	"context"
	"fmt"

	"github.com/mmynk/lostfound/internal/models"
)

// ItemLister is the read side of the ledger.
type ItemLister interface {
	ListItems(ctx context.Context) (map[string]models.Item, error)
}

// Project returns the messages addressed to identity, grouped by item name.
// Within an item, messages keep their thread order. Items without a matching
// message are absent from the result.
func Project(items map[string]models.Item, identity string) map[string][]models.Message {
	out := make(map[string][]models.Message)
	for name, item := range items {
		for _, msg := range item.Messages {
			if msg.To == identity {
				out[name] = append(out[name], msg)
			}
		}
	}
	return out
}

// ContactCount counts every message on items whose contact is identity.
// This is the number shown on the home page.
func ContactCount(items map[string]models.Item, identity string) int {
	n := 0
	for _, item := range items {
		if item.ContactInfo == identity {
			n += len(item.Messages)
		}
	}
	return n
}

// Total returns the number of messages in a projection.
func Total(projection map[string][]models.Message) int {
	n := 0
	for _, msgs := range projection {
		n += len(msgs)
	}
	return n
}

// Projector computes inbox views on demand.
type Projector struct {
	items ItemLister
}

// NewProjector creates a Projector reading from items.
func NewProjector(items ItemLister) *Projector {
	return &Projector{items: items}
}

// Inbox returns the current inbox of identity.
func (p *Projector) Inbox(ctx context.Context, identity string) (map[string][]models.Message, error) {
	items, err := p.items.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to project inbox: %w", err)
	}
	return Project(items, identity), nil
}

// Summary is the home page view of one user.
type Summary struct {
	// ContactMessages counts messages on items listing the user as contact.
	ContactMessages int
	// InboxMessages counts messages addressed to the user.
	InboxMessages int
}

// Summary computes both counters from a single snapshot.
func (p *Projector) Summary(ctx context.Context, identity string) (Summary, error) {
	items, err := p.items.ListItems(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("failed to summarize inbox: %w", err)
	}
	return Summary{
		ContactMessages: ContactCount(items, identity),
		InboxMessages:   Total(Project(items, identity)),
	}, nil
}
