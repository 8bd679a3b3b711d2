package logging

import (
	"context"
	"strings"
	"time"

	auth "github.com/goliatone/go-auth-contacts"
	"go.uber.org/zap"
)

const (
	defaultChannel    = "auth"
	defaultObjectType = "user"
	defaultActorID    = "system"
)

// ActivitySink writes activity events as structured log entries
type ActivitySink struct {
	zap     *zap.Logger
	channel string
}

var _ auth.ActivitySink = (*ActivitySink)(nil)

// NewActivitySink returns a sink logging through l
func NewActivitySink(l *Logger) *ActivitySink {
	z := zap.NewNop()
	if l != nil {
		z = l.zap.WithOptions(zap.AddCallerSkip(-1))
	}
	return &ActivitySink{
		zap:     z.Named("activity"),
		channel: defaultChannel,
	}
}

// Record implements auth.ActivitySink
func (s *ActivitySink) Record(ctx context.Context, event auth.ActivityEvent) error {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	actorID := strings.TrimSpace(event.UserID)
	if actorID == "" {
		actorID = defaultActorID
	}

	fields := []zap.Field{
		zap.String("actor_id", actorID),
		zap.String("verb", string(event.EventType)),
		zap.String("object_type", defaultObjectType),
		zap.String("channel", s.channel),
		zap.Time("occurred_at", occurredAt),
	}
	if event.Email != "" {
		fields = append(fields, zap.String("email", event.Email))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	if event.EventType == auth.ActivityEventMailDeliveryFailure || event.EventType == auth.ActivityEventLoginFailure {
		s.zap.Warn("activity", fields...)
		return nil
	}

	s.zap.Info("activity", fields...)
	return nil
}
