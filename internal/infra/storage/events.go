package storage

import (
	"encoding/json"
	"fmt"
	"time"

	"comptoir/internal/event"

	"github.com/google/uuid"
)

// EventRecord is the persisted form of an event. Seq is assigned by SQLite
// on insert, so it follows commit order of the writing transactions.
type EventRecord struct {
	Seq       uint64    `gorm:"primaryKey;autoIncrement"`
	ID        string    `gorm:"uniqueIndex"`
	Type      string    `gorm:"index"`
	Payload   string    // JSON
	CreatedAt time.Time
}

// AppendEvent stores ev in the current unit of work and fills in its
// Seq, ID and Ts. The event is only visible once the transaction commits.
func (t *Tx) AppendEvent(ev *event.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", ev.Type, err)
	}

	rec := EventRecord{
		ID:        uuid.NewString(),
		Type:      string(ev.Type),
		Payload:   string(payload),
		CreatedAt: time.Now().UTC(),
	}
	if err := t.db.Create(&rec).Error; err != nil {
		return err
	}

	ev.Seq = rec.Seq
	ev.ID = rec.ID
	ev.Ts = rec.CreatedAt
	return nil
}

// EventsAfter returns up to limit events with Seq greater than afterSeq.
// Payloads are returned as raw JSON.
func (t *Tx) EventsAfter(afterSeq uint64, limit int) ([]event.Event, error) {
	var recs []EventRecord
	q := t.db.Where("seq > ?", afterSeq).Order("seq ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}

	out := make([]event.Event, 0, len(recs))
	for _, r := range recs {
		out = append(out, event.Event{
			Seq:     r.Seq,
			ID:      r.ID,
			Type:    event.Type(r.Type),
			Ts:      r.CreatedAt,
			Payload: json.RawMessage(r.Payload),
		})
	}
	return out, nil
}
