package service

import (
	"context"
	"sync"

	"github.com/corvusHold/certmail/internal/events/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Logger is a simple Publisher that logs events.
// In production, replace with a queue or external sink.
type Logger struct {
	log zerolog.Logger
}

func NewLogger(log zerolog.Logger) *Logger { return &Logger{log: log} }

func (l *Logger) Publish(ctx context.Context, e domain.Event) error {
	ev := l.log.Info().Str("type", e.Type)
	if e.BatchID != uuid.Nil {
		ev = ev.Str("batch_id", e.BatchID.String())
	}
	ev.Fields(map[string]any{"meta": e.Meta}).
		Time("ts", e.Time).
		Msg("event")
	return nil
}

// Memory records published events. Used by tests and the CLI dry run.
type Memory struct {
	mu     sync.Mutex
	events []domain.Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Publish(_ context.Context, e domain.Event) error {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Fanout publishes to every sink and returns the first error.
type Fanout []domain.Publisher

func (f Fanout) Publish(ctx context.Context, e domain.Event) error {
	var first error
	for _, p := range f {
		if err := p.Publish(ctx, e); err != nil && first == nil {
			first = err
		}
	}
	return first
}
