package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"statusboard/internal/domain"
	"statusboard/internal/events"
	"statusboard/internal/logging"
	"statusboard/internal/observability"
	"statusboard/internal/store"
)

// LastUpdateLayout is the metadata.lastUpdate format (UTC, millisecond precision).
const LastUpdateLayout = "2006-01-02T15:04:05.000Z"

// ErrRoleNotFound is returned when an update names a role outside the roster.
var ErrRoleNotFound = errors.New("role not found")

// ValidationError rejects a command before any state is read or written.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

// UpdateCommand is one status report from a role.
type UpdateCommand struct {
	RoleID        string
	Status        domain.Status
	TaskName      string
	Progress      *float64
	SpentTime     *float64
	EstimatedTime *float64
	EventMessage  string
}

// Validate checks required fields and value ranges.
func (c UpdateCommand) Validate() error {
	if c.RoleID == "" {
		return ValidationError{Field: "roleId", Reason: "is required"}
	}
	if c.Status == "" {
		return ValidationError{Field: "status", Reason: "is required"}
	}
	if !c.Status.Valid() {
		return ValidationError{Field: "status", Reason: fmt.Sprintf("must be idle or working, got %q", c.Status)}
	}
	if c.Progress != nil && (*c.Progress < 0 || *c.Progress > 100) {
		return ValidationError{Field: "progress", Reason: "must be between 0 and 100"}
	}
	if c.SpentTime != nil && *c.SpentTime < 0 {
		return ValidationError{Field: "spentTime", Reason: "must not be negative"}
	}
	if c.EstimatedTime != nil && *c.EstimatedTime < 0 {
		return ValidationError{Field: "estimatedTime", Reason: "must not be negative"}
	}
	return nil
}

type Engine struct {
	Store  store.Store
	Events events.Writer
	Logger logging.Logger
	Now    func() time.Time
}

func New(s store.Store, logger logging.Logger) Engine {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return Engine{
		Store:  s,
		Events: events.Writer{},
		Logger: logger,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() logging.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return logging.NoOpLogger{}
}

// State returns the current document.
func (e Engine) State(ctx context.Context) (*domain.Document, error) {
	return e.Store.Load(ctx)
}

// Apply validates cmd, mutates the addressed role, records an event when a
// message is given, stamps metadata.lastUpdate and saves the document.
// Nothing is written when validation fails or the role is unknown.
// The load-mutate-save cycle runs under the store's write lock, so
// concurrent updates apply one after the other.
func (e Engine) Apply(ctx context.Context, cmd UpdateCommand) (err error) {
	defer func() { observability.RecordUpdate(outcome(err)) }()
	if err := cmd.Validate(); err != nil {
		return err
	}
	err = e.Store.Update(ctx, func(doc *domain.Document) error {
		idx := doc.RoleIndex(cmd.RoleID)
		if idx < 0 {
			return fmt.Errorf("%w: %s", ErrRoleNotFound, cmd.RoleID)
		}
		now := e.now()
		role := &doc.Roles[idx]
		role.Status = cmd.Status
		switch {
		case cmd.Status == domain.StatusWorking && cmd.TaskName != "":
			role.CurrentTask = &domain.Task{
				Name:             cmd.TaskName,
				Progress:         cmd.Progress,
				SpentMinutes:     cmd.SpentTime,
				EstimatedMinutes: cmd.EstimatedTime,
			}
		case cmd.Status == domain.StatusIdle:
			role.CurrentTask = nil
		}
		if cmd.EventMessage != "" {
			w := e.Events
			if w.Now == nil {
				w.Now = func() time.Time { return now }
			}
			w.Append(doc, cmd.Status, role.Name, cmd.EventMessage)
		}
		doc.Metadata.LastUpdate = nextLastUpdate(doc.Metadata.LastUpdate, now)
		return nil
	})
	if err != nil {
		return err
	}
	e.logger().Info("status updated",
		"role_id", cmd.RoleID,
		"status", string(cmd.Status),
		"task", cmd.TaskName,
		"event", cmd.EventMessage,
	)
	return nil
}

// nextLastUpdate formats now, moved one millisecond past prev when the clock
// has not advanced beyond it at the layout's precision.
func nextLastUpdate(prev string, now time.Time) string {
	stamp := now.UTC().Truncate(time.Millisecond)
	if last, err := time.Parse(LastUpdateLayout, prev); err == nil && !stamp.After(last) {
		stamp = last.Add(time.Millisecond)
	}
	return stamp.Format(LastUpdateLayout)
}

func outcome(err error) string {
	var ve ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &ve):
		return "invalid"
	case errors.Is(err, ErrRoleNotFound):
		return "not_found"
	case errors.Is(err, store.ErrCorruptState):
		return "corrupt"
	default:
		return "error"
	}
}
