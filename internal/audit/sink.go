package audit

import (
	"context"
	"sort"

	"admin-auth-service/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// LogSink writes events to the structured log. It is the development default
// and the sink of last resort.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("security")}
}

func (s *LogSink) Persist(_ context.Context, ev models.SecurityEvent) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.Uint64("sequence", ev.Sequence),
		zap.String("action", ev.Action),
		zap.String("resource", ev.Resource),
		zap.String("severity", string(ev.Severity)),
		zap.String("subject_id", ev.SubjectID),
		zap.String("source_address", ev.SourceAddress),
		zap.String("user_agent", ev.UserAgent),
		zap.Time("timestamp", ev.Timestamp),
		zap.String("hash", ev.Hash),
	}
	for _, k := range SortedDetailKeys(ev.Details) {
		fields = append(fields, zap.String("detail."+k, ev.Details[k]))
	}

	switch ev.Severity {
	case models.SeverityCritical:
		s.logger.Error("security_event", fields...)
	case models.SeverityHigh:
		s.logger.Warn("security_event", fields...)
	default:
		s.logger.Info("security_event", fields...)
	}
	return nil
}

// MultiSink fans an event out to every member concurrently. It fails when
// any member fails, which sends the event to the fallback buffer; members
// that already accepted it may then see it again on redelivery.
type MultiSink struct {
	sinks []Sink
}

func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (m *MultiSink) Persist(ctx context.Context, ev models.SecurityEvent) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sinks {
		s := s
		g.Go(func() error {
			return s.Persist(gctx, ev)
		})
	}
	return g.Wait()
}

func (m *MultiSink) Len() int {
	return len(m.sinks)
}

// LogAlertHook reports critical events on the error log when no external
// alerting channel is configured.
type LogAlertHook struct {
	logger *zap.Logger
}

func NewLogAlertHook(logger *zap.Logger) *LogAlertHook {
	return &LogAlertHook{logger: logger.Named("alert")}
}

func (h *LogAlertHook) Notify(_ context.Context, ev models.SecurityEvent) error {
	h.logger.Error("CRITICAL security event",
		zap.String("event_id", ev.ID),
		zap.String("action", ev.Action),
		zap.String("subject_id", ev.SubjectID),
		zap.String("source_address", ev.SourceAddress),
	)
	return nil
}

// SortedDetailKeys returns the keys of a details map in a stable order.
func SortedDetailKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
