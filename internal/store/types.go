package store

import (
	"time"

	"workspaced/internal/patch"
)

// Workspace holds the current snapshot of a document together with its
// event-log pointers.
//
// DocVersion is the optimistic-concurrency token: it starts at 1 and is
// incremented by exactly one on every mutation that changes the document.
// EventVersion points at the log entry Data reflects; MaxEventVersion is
// the tip of the log, so EventVersion < MaxEventVersion means redo is
// available. BaseData is captured at creation and never changes; replaying
// events 1..EventVersion over it must reproduce Data exactly.
type Workspace struct {
	ID              string    `json:"id"`
	OwnerID         string    `json:"ownerId"`
	Name            string    `json:"name"`
	Data            any       `json:"data"`
	BaseData        any       `json:"baseData"`
	DocVersion      int64     `json:"docVersion"`
	EventVersion    int64     `json:"eventVersion"`
	MaxEventVersion int64     `json:"maxEventVersion"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// WorkspaceSummary is the list-view projection of a workspace, without the
// document payloads.
type WorkspaceSummary struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	DocVersion int64     `json:"docVersion"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Event is one entry of a workspace's append-only log. Version is assigned
// by the store at insertion time, strictly increasing per workspace.
type Event struct {
	WorkspaceID string            `json:"workspaceId"`
	Version     int64             `json:"version"`
	ActorID     string            `json:"actorId"`
	Timestamp   time.Time         `json:"timestamp"`
	Patches     []patch.Operation `json:"patches"`
}

// UpdateResult reports the outcome of an update.
type UpdateResult struct {
	Success    bool  `json:"success"`
	NoChanges  bool  `json:"noChanges,omitempty"`
	DocVersion int64 `json:"docVersion"`
}

// StepResult reports the outcome of an undo or redo.
type StepResult struct {
	Success         bool   `json:"success"`
	Message         string `json:"message,omitempty"`
	Data            any    `json:"data,omitempty"`
	PreviousVersion int64  `json:"previousVersion"`
	CurrentVersion  int64  `json:"currentVersion"`
	DocVersion      int64  `json:"docVersion"`
}

// AuthSession is one handshake record, keyed by the client-generated code.
type AuthSession struct {
	Code      string     `json:"code"`
	Status    string     `json:"status"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Auth session states.
const (
	SessionPending   = "pending"
	SessionCompleted = "completed"
	SessionExpired   = "expired"
)

// User is a dev identity record.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	CreatedAt    time.Time
}
