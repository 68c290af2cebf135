package audit

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"clinica.app/internal/auth"
	"clinica.app/internal/ids"
	"clinica.app/internal/obs"
)

// Action names recorded in the trail.
const (
	ActionLogin              = "login"
	ActionCreate             = "create"
	ActionUpdate             = "update"
	ActionDeactivate         = "deactivate"
	ActionReplacePermissions = "replace_permissions"
)

// Entry is one append-only audit row. RoleID and RoleUserID are set for staff
// actors, ActorUserID for application users.
type Entry struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	RoleID         string         `json:"role_id,omitempty"`
	RoleUserID     string         `json:"role_user_id,omitempty"`
	ActorUserID    string         `json:"actor_user_id,omitempty"`
	FirstName      string         `json:"user_first_name"`
	LastName       string         `json:"user_last_name"`
	Identifier     string         `json:"user_identifier"`
	Action         string         `json:"action_type"`
	Module         auth.Module    `json:"module"`
	EntityType     string         `json:"entity_type,omitempty"`
	EntityID       string         `json:"entity_id,omitempty"`
	Details        map[string]any `json:"action_details"`
	RequestID      string         `json:"request_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Filter narrows ListEntries. Zero values mean "any".
type Filter struct {
	Module     auth.Module
	Action     string
	RoleUserID string
	Limit      int
	Offset     int
}

// Store persists audit rows.
type Store interface {
	InsertAuditEntry(ctx context.Context, e Entry) error
	ListAuditEntries(ctx context.Context, organizationID string, f Filter) ([]Entry, error)
}

// Recorder is the write side used by services.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// For builds an entry whose actor fields are taken from id.
func For(id auth.Identity, action string, module auth.Module) Entry {
	e := Entry{
		OrganizationID: id.OrganizationID(),
		Action:         action,
		Module:         module,
	}
	switch {
	case id.Track == auth.TrackStaff && id.Session != nil:
		e.RoleID = id.Session.RoleID
		e.RoleUserID = id.Session.RoleUserID
		e.FirstName = id.Session.FirstName
		e.LastName = id.Session.LastName
		e.Identifier = id.Session.Identifier
	case id.Track == auth.TrackUser && id.User != nil:
		e.ActorUserID = id.User.ID
		e.FirstName = id.User.FirstName
		e.LastName = id.User.LastName
	}
	return e
}

// On sets the affected entity.
func (e Entry) On(entityType, entityID string) Entry {
	e.EntityType = entityType
	e.EntityID = entityID
	return e
}

// With sets the free-form details.
func (e Entry) With(details map[string]any) Entry {
	e.Details = details
	return e
}

// Logger writes audit entries without ever failing the caller. There is no
// idempotency key: a retried request records a second entry.
type Logger struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewLogger returns a Logger that abandons writes taking longer than timeout.
func NewLogger(store Store, log *zap.Logger, timeout time.Duration) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Logger{store: store, log: log, timeout: timeout, now: time.Now}
}

// Record appends e. Failures and timeouts are logged and counted, never returned.
func (l *Logger) Record(ctx context.Context, e Entry) {
	if l == nil || l.store == nil {
		return
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	if e.RequestID == "" {
		e.RequestID = requestIDFromContext(ctx)
	}

	// the caller may already be cancelled once the response is written
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)
	defer cancel()

	if err := l.store.InsertAuditEntry(wctx, e); err != nil {
		obs.ObserveAuditWrite("error")
		l.log.Error("audit write failed",
			zap.Error(err),
			zap.String("organization_id", e.OrganizationID),
			zap.String("role_user_id", e.RoleUserID),
			zap.String("actor_user_id", e.ActorUserID),
			zap.String("action", e.Action),
			zap.String("module", string(e.Module)),
			zap.String("entity_id", e.EntityID),
			zap.String("request_id", e.RequestID),
		)
		return
	}
	obs.ObserveAuditWrite("ok")
}

// List returns entries of organizationID, newest first.
func (l *Logger) List(ctx context.Context, organizationID string, f Filter) ([]Entry, error) {
	organizationID = strings.TrimSpace(organizationID)
	if organizationID == "" {
		return nil, auth.ErrInvalidInput
	}
	switch {
	case f.Limit <= 0:
		f.Limit = 50
	case f.Limit > 200:
		f.Limit = 200
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return l.store.ListAuditEntries(ctx, organizationID, f)
}

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier recorded with each entry.
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
