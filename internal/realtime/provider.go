package realtime

import "context"

// EventRecorder stores a realtime event row with the identity provider,
// whose own realtime feed pushes it to subscribed browsers.
type EventRecorder interface {
	InsertRealtimeEvent(ctx context.Context, eventType, taskID string, targetUserID *string, payload map[string]any) error
}

type ProviderSink struct {
	rec EventRecorder
}

func NewProviderSink(rec EventRecorder) *ProviderSink { return &ProviderSink{rec: rec} }

func (s *ProviderSink) Name() string { return "provider" }

func (s *ProviderSink) Publish(ctx context.Context, e Event) error {
	return s.rec.InsertRealtimeEvent(ctx, string(e.Type), e.TaskID, e.TargetUserID, e.Payload)
}
