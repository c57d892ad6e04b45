// Package events publishes ledger changes for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// Ledger event types.
const (
	CreditsGranted  = "credits.granted"
	CreditsConsumed = "credits.consumed"
	CreditsExpired  = "credits.expired"
)

// Event is one ledger change. Amount is always positive; Type carries the sign.
type Event struct {
	Type            string    `json:"type"`
	UserID          uint64    `json:"user_id"`
	Amount          int64     `json:"amount"`
	TransactionType string    `json:"transaction_type,omitempty"`
	TransactionID   uint64    `json:"transaction_id,omitempty"`
	Balance         *int64    `json:"balance,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Publisher delivers encoded events keyed by partition key.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

// Emit encodes ev and hands it to p. Delivery failures are logged, never returned.
func Emit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, errMarshal := json.Marshal(ev)
	if errMarshal != nil {
		log.WithError(errMarshal).WithField("event", ev.Type).Warn("events: encode failed")
		return
	}
	if errPublish := p.Publish(ctx, ev.Type, payload, strconv.FormatUint(ev.UserID, 10)); errPublish != nil {
		log.WithError(errPublish).WithFields(log.Fields{
			"event":   ev.Type,
			"user_id": ev.UserID,
		}).Warn("events: publish failed")
	}
}

// LogPublisher writes events to the application log.
type LogPublisher struct{}

// Publish logs the event at debug level.
func (LogPublisher) Publish(_ context.Context, eventType string, payload []byte, partitionKey string) error {
	log.WithFields(log.Fields{
		"event": eventType,
		"key":   partitionKey,
	}).Debug(string(payload))
	return nil
}
