package outbox

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// ReplayStore 支持把失败事件重新放回 pending 队列
type ReplayStore interface {
	GetFailedEvents(ctx context.Context, limit int) ([]*Event, error)
	ResetEvent(ctx context.Context, eventID int64) error
}

// ReplayService 提供重放 Outbox 失败事件的服务，实际发布仍由 Dispatcher 完成
type ReplayService struct {
	store  ReplayStore
	logger *zap.Logger
}

func NewReplayService(store ReplayStore, logger *zap.Logger) *ReplayService {
	return &ReplayService{store: store, logger: logger}
}

func (s *ReplayService) ReplayEvent(ctx context.Context, eventID int64) error {
	if err := s.store.ResetEvent(ctx, eventID); err != nil {
		return fmt.Errorf("failed to replay event %d: %w", eventID, err)
	}
	s.logger.Info("Outbox event queued for replay", zap.Int64("event_id", eventID))
	return nil
}

// ReplayFailedEvents 重放最多 limit 个失败事件，返回成功重置的数量
func (s *ReplayService) ReplayFailedEvents(ctx context.Context, limit int) (int, error) {
	events, err := s.store.GetFailedEvents(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to get failed events: %w", err)
	}

	replayed := 0
	for _, event := range events {
		if err := s.ReplayEvent(ctx, event.ID); err != nil {
			s.logger.Warn("Failed to replay outbox event",
				zap.Int64("event_id", event.ID),
				zap.Error(err),
			)
			continue
		}
		replayed++
	}
	return replayed, nil
}
