package clipvault

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// NoopEventSink is a no-operation implementation of EventSink
// Useful when no downstream change feed is wired up, and for testing
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

// VideoStatusChanged does nothing and returns nil
func (n *NoopEventSink) VideoStatusChanged(ctx context.Context, video *Video) error {
	return nil
}

// ThumbnailCreated does nothing and returns nil
func (n *NoopEventSink) ThumbnailCreated(ctx context.Context, thumb *Thumbnail) error {
	return nil
}

// ShareLinkCreated does nothing and returns nil
func (n *NoopEventSink) ShareLinkCreated(ctx context.Context, link *ShareLink) error {
	return nil
}

// ShareLinkRevoked does nothing and returns nil
func (n *NoopEventSink) ShareLinkRevoked(ctx context.Context, linkID uuid.UUID) error {
	return nil
}

// LogEventSink writes state transitions to a slog.Logger so any downstream
// feed consumer can tail them.
type LogEventSink struct {
	log *slog.Logger
}

// NewLogEventSink creates an event sink backed by the given logger.
func NewLogEventSink(log *slog.Logger) EventSink {
	if log == nil {
		log = slog.Default()
	}
	return &LogEventSink{log: log}
}

func (s *LogEventSink) VideoStatusChanged(ctx context.Context, video *Video) error {
	s.log.InfoContext(ctx, "video status changed",
		"video_id", video.ID, "status", video.Status, "reason", video.FailureReason)
	return nil
}

func (s *LogEventSink) ThumbnailCreated(ctx context.Context, thumb *Thumbnail) error {
	s.log.InfoContext(ctx, "thumbnail created",
		"video_id", thumb.VideoID, "position_index", thumb.PositionIndex)
	return nil
}

func (s *LogEventSink) ShareLinkCreated(ctx context.Context, link *ShareLink) error {
	s.log.InfoContext(ctx, "share link created",
		"link_id", link.ID, "video_id", link.VideoID, "visibility", link.Visibility)
	return nil
}

func (s *LogEventSink) ShareLinkRevoked(ctx context.Context, linkID uuid.UUID) error {
	s.log.InfoContext(ctx, "share link revoked", "link_id", linkID)
	return nil
}

// NoopMailer discards outbound mail. Useful for development and tests.
type NoopMailer struct{}

// NewNoopMailer creates a mailer that drops every message.
func NewNoopMailer() Mailer {
	return &NoopMailer{}
}

// Send does nothing and returns nil
func (n *NoopMailer) Send(ctx context.Context, to, subject, htmlBody string) error {
	return nil
}
