// Package notify pushes freshly published versions to downstream systems
// (shop, search index). Delivery is best-effort: callers log failures and
// never roll a commit back because of them.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bartek5186/pcmcatalog/internal/db"
)

type Notifier interface {
	Name() string
	Published(ctx context.Context, rec *db.ProductVersion) error
}

// Message is the wire shape sent downstream.
type Message struct {
	EntityCode        string         `json:"entity_code"`
	SKU               string         `json:"sku,omitempty"`
	Version           int            `json:"version"`
	Status            string         `json:"status"`
	CompletenessScore int            `json:"completeness_score"`
	PublishedAt       *time.Time     `json:"published_at,omitempty"`
	Payload           map[string]any `json:"payload"`
}

func NewMessage(rec *db.ProductVersion) (Message, error) {
	payload, err := rec.Data()
	if err != nil {
		return Message{}, err
	}
	return Message{
		EntityCode:        rec.EntityCode,
		SKU:               rec.SKU,
		Version:           rec.Version,
		Status:            rec.Status,
		CompletenessScore: rec.CompletenessScore,
		PublishedAt:       rec.PublishedAt,
		Payload:           payload,
	}, nil
}

func (m Message) JSON() ([]byte, error) {
	return json.Marshal(m)
}

type Nop struct{}

func (Nop) Name() string                                        { return "nop" }
func (Nop) Published(context.Context, *db.ProductVersion) error { return nil }

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Name() string { return "multi" }

func (m Multi) Published(ctx context.Context, rec *db.ProductVersion) error {
	var errs []error
	for _, n := range m {
		if err := n.Published(ctx, rec); err != nil {
			errs = append(errs, errors.New(n.Name()+": "+err.Error()))
		}
	}
	return errors.Join(errs...)
}
