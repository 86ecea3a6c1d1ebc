package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is one immutable audit record. Change holds the before/after diff
// of a mutation or the details of a denial.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  string         `json:"tenant_id,omitempty"`
	ActorID   string         `json:"actor_id,omitempty"` // empty for system events
	TargetID  string         `json:"target_id,omitempty"`
	Action    string         `json:"action"`
	Change    map[string]any `json:"change,omitempty"`
	Source    string         `json:"source"` // "api", "cli", "system"
	CreatedAt time.Time      `json:"created_at"`
}

const (
	ActionPermissionGranted = "permission.granted"
	ActionPermissionRevoked = "permission.revoked"
	ActionPermissionReset   = "permission.reset"
	ActionRoleSet           = "role.set"
	ActionAccessDenied      = "access.denied"
)

const (
	ChangePermission = "permission"
	ChangeScope      = "scope_id"
	ChangeBefore     = "before"
	ChangeAfter      = "after"
	ChangeVersion    = "version"
	ChangeReason     = "reason"
	ChangeRequestID  = "request_id"
)

// NewEvent stamps an id and timestamp on a new event.
func NewEvent(action, actorID, targetID, tenantID string, change map[string]any) Event {
	return Event{
		ID:        uuid.New(),
		TenantID:  tenantID,
		ActorID:   actorID,
		TargetID:  targetID,
		Action:    action,
		Change:    change,
		Source:    "api",
		CreatedAt: time.Now().UTC(),
	}
}

// Sink records mutation events synchronously. A returned error means the
// event was not stored and the mutation it describes must not be applied.
type Sink interface {
	Record(ctx context.Context, event Event) error
}

// Logger is the fire-and-forget interface used for access denials.
type Logger interface {
	Log(ctx context.Context, event Event)
	Close() error
}

// NopLogger is a no-op audit logger for testing and when audit is disabled.
type NopLogger struct{}

func (NopLogger) Log(context.Context, Event) {}
func (NopLogger) Close() error               { return nil }

// MemorySink keeps events in memory. Set Err to make Record fail.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (s *MemorySink) Record(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, event)
	return nil
}

// Log lets a MemorySink stand in for the async Logger.
func (s *MemorySink) Log(ctx context.Context, event Event) {
	_ = s.Record(ctx, event)
}

func (s *MemorySink) Close() error { return nil }

// Events returns a copy of what has been recorded.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}
