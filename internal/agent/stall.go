package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelhq/sentinel/internal/metrics"
)

// stallNotice posts an interim message when a reply takes longer than a
// threshold and lets the real reply replace it in place.
type stallNotice struct {
	r     Replier
	timer *time.Timer
	done  chan struct{}

	mu  sync.Mutex
	ref string
}

func startStall(ctx context.Context, r Replier, after time.Duration, text string) *stallNotice {
	s := &stallNotice{r: r, done: make(chan struct{})}
	s.timer = time.AfterFunc(after, func() {
		defer close(s.done)
		ref, err := r.Post(context.WithoutCancel(ctx), text)
		if err != nil {
			slog.Warn("Failed to post stall notice", "error", err)
			return
		}
		metrics.StallNotices.Inc()
		s.mu.Lock()
		s.ref = ref
		s.mu.Unlock()
	})
	return s
}

// deliver sends the final text. If the notice went out it is updated in
// place; otherwise the text is posted as a new message.
func (s *stallNotice) deliver(ctx context.Context, text string) error {
	if s.timer.Stop() {
		_, err := s.r.Post(ctx, text)
		return err
	}
	<-s.done
	s.mu.Lock()
	ref := s.ref
	s.mu.Unlock()
	if ref != "" {
		err := s.r.Update(ctx, ref, text)
		if err == nil {
			return nil
		}
		slog.Warn("Failed to replace stall notice, posting instead", "error", err)
	}
	_, err := s.r.Post(ctx, text)
	return err
}

// cancel stops a notice that has not fired yet.
func (s *stallNotice) cancel() {
	s.timer.Stop()
}
