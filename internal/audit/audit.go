package audit

import (
	"context"
	"strings"
	"time"

	"caremesh.org/internal/ids"
	"caremesh.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit
// correlation.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// Event is one immutable audit record. Once written it is never updated or
// deleted.
type Event struct {
	ID         string            `json:"id"`
	Action     string            `json:"action"`
	ActorID    string            `json:"actor_id,omitempty"`
	TargetID   string            `json:"target_id,omitempty"`
	Diff       map[string]string `json:"diff,omitempty"`
	Success    bool              `json:"success"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Store appends events to the append-only audit log.
type Store interface {
	Append(ctx context.Context, e *Event) error
}

// Recorder is the audit sink: every event goes to the structured log, and to
// the append-only store when one is configured. Recording is fire-and-forget;
// a failed append is logged and swallowed, never surfaced to the guarded
// operation.
type Recorder struct {
	store Store
	now   func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder constructs a Recorder. store may be nil, in which case events
// only reach the log.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record emits one audit event.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}

	entry := map[string]any{
		"ts":      e.OccurredAt.Format(time.RFC3339Nano),
		"type":    "audit",
		"id":      e.ID,
		"action":  e.Action,
		"success": e.Success,
	}
	if e.ActorID != "" {
		entry["actor_id"] = e.ActorID
	}
	if e.TargetID != "" {
		entry["target_id"] = e.TargetID
	}
	if e.Reason != "" {
		entry["reason"] = e.Reason
	}
	if len(e.Diff) > 0 {
		entry["diff"] = e.Diff
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	obs.LogEntry(entry)

	if r.store == nil {
		return
	}
	if err := r.store.Append(ctx, &e); err != nil {
		obs.LogEntry(map[string]any{
			"ts":    r.now().UTC().Format(time.RFC3339Nano),
			"level": "error",
			"msg":   "audit append failed",
			"id":    e.ID,
			"error": err.Error(),
		})
	}
}
