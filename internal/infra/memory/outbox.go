package memory

import (
	"context"
	"time"

	"github.com/xavierca1/lead-marketplace/internal/entity"
)

// appendEvents must be called with s.mu held.
func (s *Store) appendEvents(events []entity.Event) {
	for _, e := range events {
		s.outbox = append(s.outbox, &entity.OutboxRecord{Event: e})
	}
}

func (s *Store) FetchUnpublished(_ context.Context, limit int) ([]entity.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []entity.OutboxRecord
	for _, r := range s.outbox {
		if r.PublishedAt != nil || r.DeadLetteredAt != nil {
			continue
		}
		out = append(out, *r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.outbox {
		if r.ID == id {
			t := at
			r.PublishedAt = &t
			return nil
		}
	}
	return entity.ErrNotFound
}

func (s *Store) MarkFailed(_ context.Context, id string, errMsg string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.outbox {
		if r.ID == id {
			r.Attempts++
			r.LastError = errMsg
			return nil
		}
	}
	return entity.ErrNotFound
}

func (s *Store) MarkDeadLettered(_ context.Context, id string, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.outbox {
		if r.ID == id {
			t := at
			r.DeadLetteredAt = &t
			r.LastError = errMsg
			return nil
		}
	}
	return entity.ErrNotFound
}

// Events returns every event written so far, in write order.
func (s *Store) Events() []entity.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entity.Event, 0, len(s.outbox))
	for _, r := range s.outbox {
		out = append(out, r.Event)
	}
	return out
}

// EventsOfType filters Events by type.
func (s *Store) EventsOfType(eventType string) []entity.Event {
	var out []entity.Event
	for _, e := range s.Events() {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
