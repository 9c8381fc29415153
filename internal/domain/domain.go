package domain

import (
	"errors"
	"fmt"
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusWorking Status = "working"
)

// Valid reports whether s is a member of the closed status set.
func (s Status) Valid() bool {
	return s == StatusIdle || s == StatusWorking
}

// Event markers as rendered by the board.
const (
	EventInProgress = "🟡"
	EventCompleted  = "✅"
)

// EventTypeFor derives the event marker from the status that triggered it.
func EventTypeFor(s Status) string {
	if s == StatusWorking {
		return EventInProgress
	}
	return EventCompleted
}

type Task struct {
	Name             string   `json:"name"`
	Progress         *float64 `json:"progress,omitempty"`
	SpentMinutes     *float64 `json:"spentMinutes,omitempty"`
	EstimatedMinutes *float64 `json:"estimatedMinutes,omitempty"`
}

type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Status      Status `json:"status" enum:"idle,working"`
	CurrentTask *Task  `json:"currentTask,omitempty"`
	Extra       Extra  `json:"-"`
}

type Event struct {
	Time    string `json:"time"`
	Type    string `json:"type"`
	From    string `json:"from"`
	Message string `json:"message"`
}

type Metadata struct {
	LastUpdate string `json:"lastUpdate"`
	Extra      Extra  `json:"-"`
}

// Document is the whole persisted board: roster, event log and metadata.
type Document struct {
	Roles    []Role    `json:"roles"`
	Events   []Event   `json:"events"`
	Metadata *Metadata `json:"metadata"`
	Extra    Extra     `json:"-"`
}

// ErrInvalidDocument is wrapped by every shape violation reported by Validate.
var ErrInvalidDocument = errors.New("invalid state document")

// Validate checks the shape of a decoded document.
func (d *Document) Validate() error {
	if d.Roles == nil {
		return fmt.Errorf("%w: roles is required", ErrInvalidDocument)
	}
	if d.Events == nil {
		return fmt.Errorf("%w: events is required", ErrInvalidDocument)
	}
	if d.Metadata == nil {
		return fmt.Errorf("%w: metadata is required", ErrInvalidDocument)
	}
	seen := make(map[string]struct{}, len(d.Roles))
	for i, r := range d.Roles {
		if r.ID == "" {
			return fmt.Errorf("%w: roles[%d].id is required", ErrInvalidDocument, i)
		}
		if _, dup := seen[r.ID]; dup {
			return fmt.Errorf("%w: duplicate role id %s", ErrInvalidDocument, r.ID)
		}
		seen[r.ID] = struct{}{}
		if r.Name == "" {
			return fmt.Errorf("%w: role %s has no name", ErrInvalidDocument, r.ID)
		}
		if !r.Status.Valid() {
			return fmt.Errorf("%w: role %s has unknown status %q", ErrInvalidDocument, r.ID, r.Status)
		}
		if r.Status == StatusIdle && r.CurrentTask != nil {
			return fmt.Errorf("%w: idle role %s carries a task", ErrInvalidDocument, r.ID)
		}
	}
	return nil
}

// RoleIndex returns the roster position of id, or -1.
func (d *Document) RoleIndex(id string) int {
	for i := range d.Roles {
		if d.Roles[i].ID == id {
			return i
		}
	}
	return -1
}

// NewDocument builds a seed document: every role idle, empty log.
func NewDocument(roles []Role, lastUpdate string) *Document {
	doc := &Document{
		Roles:    make([]Role, 0, len(roles)),
		Events:   []Event{},
		Metadata: &Metadata{LastUpdate: lastUpdate},
	}
	for _, r := range roles {
		doc.Roles = append(doc.Roles, Role{ID: r.ID, Name: r.Name, Status: StatusIdle, Extra: r.Extra})
	}
	return doc
}
