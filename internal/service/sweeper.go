package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/JimiYounger/connect-sub001/internal/repo"
)

const abandonedReason = "message was never submitted to the carrier"

// Sweeper fails outbound messages that stayed queued longer than after. A
// message only stays queued if the process died between persisting it and
// hearing back from the carrier.
type Sweeper struct {
	messages repo.MessageRepository
	after    time.Duration
	log      *slog.Logger
	now      func() time.Time
}

func NewSweeper(messages repo.MessageRepository, after time.Duration) *Sweeper {
	return &Sweeper{
		messages: messages,
		after:    after,
		log:      slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Sweeper) WithLogger(l *slog.Logger) *Sweeper {
	s.log = l
	return s
}

// Tick has the signature the scheduler expects.
func (s *Sweeper) Tick(ctx context.Context) {
	n, err := s.messages.FailStaleQueued(ctx, s.now().Add(-s.after), abandonedReason)
	if err != nil {
		s.log.Error("stale message sweep failed", "err", err)
		return
	}
	if n > 0 {
		s.log.Warn("abandoned queued messages failed", "count", n, "older_than", s.after.String())
	}
}
