package reconciler

import (
	"context"
	"time"

	"shiftbot/pkg/logx"
)

// tick runs one reconciliation pass. Per-row failures are logged and skipped;
// one bad row must not abort the rest of the pass.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.postDue(ctx, now)
	s.retractExpired(ctx, now)
}

func (s *Service) postDue(ctx context.Context, now time.Time) {
	due, err := s.store.DueToPost(ctx, now, s.leadTime())
	if err != nil {
		s.log.Error("due-to-post query failed", logx.Err(err))
		return
	}

	for _, r := range due {
		msgID, err := s.gw.Post(ctx, r.ChannelID, r.Content)
		if err != nil {
			// Row stays Scheduled and is retried every tick until the
			// gateway recovers (at-least-once posting).
			s.log.Warn("post failed; retrying next tick",
				logx.Int64("request", r.ID),
				logx.String("channel", r.ChannelID),
				logx.Err(err))
			continue
		}
		if err := s.store.MarkPosted(ctx, r.ID, msgID); err != nil {
			s.log.Error("mark-posted failed",
				logx.Int64("request", r.ID),
				logx.String("message", msgID),
				logx.Err(err))
			continue
		}
		s.log.Info("request posted",
			logx.Int64("request", r.ID),
			logx.String("kind", r.Kind),
			logx.String("channel", r.ChannelID),
			logx.String("message", msgID))
	}
}

func (s *Service) retractExpired(ctx context.Context, now time.Time) {
	expired, err := s.store.DueToRetract(ctx, now)
	if err != nil {
		s.log.Error("due-to-retract query failed", logx.Err(err))
		return
	}

	for _, r := range expired {
		if r.Posted() {
			if err := s.gw.Retract(ctx, r.ChannelID, r.MessageID); err != nil {
				// Retraction is best-effort and the row is removed
				// regardless, so the external message can be left
				// behind. Known gap carried over from the original
				// design; there is no compensating retry queue.
				s.log.Warn("retract failed; removing row anyway",
					logx.Int64("request", r.ID),
					logx.String("channel", r.ChannelID),
					logx.String("message", r.MessageID),
					logx.Err(err))
			}
		}
		if err := s.store.Remove(ctx, r.ID); err != nil {
			s.log.Error("remove failed",
				logx.Int64("request", r.ID),
				logx.Err(err))
			continue
		}
		s.log.Info("request completed",
			logx.Int64("request", r.ID),
			logx.String("kind", r.Kind),
			logx.Bool("was_posted", r.Posted()))
	}
}
