package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"workspaced/internal/patch"
)

// CreateWorkspace creates a workspace whose current and base snapshots are
// both initialData. No event is written; the log starts empty.
func (s *Store) CreateWorkspace(ownerID, name string, initialData any) (*Workspace, error) {
	data, err := patch.Normalize(initialData)
	if err != nil {
		return nil, fmt.Errorf("normalize initial data: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal initial data: %w", err)
	}

	now := time.Now()
	ws := &Workspace{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Name:            name,
		Data:            data,
		BaseData:        data,
		DocVersion:      1,
		EventVersion:    0,
		MaxEventVersion: 0,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	_, err = s.db.Exec(`
		INSERT INTO workspaces (id, owner_id, name, data, base_data, doc_version, event_version, max_event_version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ws.ID, ws.OwnerID, ws.Name, string(raw), string(raw), ws.DocVersion, ws.EventVersion, ws.MaxEventVersion, now.UnixNano(), now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert workspace: %w", err)
	}

	return ws, nil
}

// GetWorkspace retrieves a workspace owned by ownerID. Missing and
// not-owned are indistinguishable to the caller: both return (nil, nil) so
// that nothing about other actors' workspaces leaks.
func (s *Store) GetWorkspace(ownerID, id string) (*Workspace, error) {
	row := s.db.QueryRow(`
		SELECT id, owner_id, name, data, base_data, doc_version, event_version, max_event_version, created_at, updated_at
		FROM workspaces WHERE id = ? AND owner_id = ?`, id, ownerID)

	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get workspace: %w", err)
	}
	return ws, nil
}

// ListWorkspaces returns summaries of the caller's workspaces, most
// recently updated first. An unknown owner simply gets an empty list.
func (s *Store) ListWorkspaces(ownerID string) ([]WorkspaceSummary, error) {
	rows, err := s.db.Query(`
		SELECT id, name, doc_version, updated_at
		FROM workspaces WHERE owner_id = ?
		ORDER BY updated_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("query workspaces: %w", err)
	}
	defer rows.Close()

	summaries := []WorkspaceSummary{}
	for rows.Next() {
		var sum WorkspaceSummary
		var updatedNs int64
		if err := rows.Scan(&sum.ID, &sum.Name, &sum.DocVersion, &updatedNs); err != nil {
			return nil, fmt.Errorf("scan workspace summary: %w", err)
		}
		sum.UpdatedAt = time.Unix(0, updatedNs)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workspaces: %w", err)
	}

	return summaries, nil
}

// UpdateWorkspace applies newData as the next state of the workspace. The
// whole read-check-write sequence runs in one immediate transaction so two
// callers racing on the same expectedDocVersion cannot both win.
//
// If the caller is updating from an undone position (event version behind
// the tip), the undone tail of the log is deleted first: the redo future is
// discarded irrevocably and the new event becomes the tip.
func (s *Store) UpdateWorkspace(ownerID, id string, newData any, expectedDocVersion int64) (*UpdateResult, error) {
	normalized, err := patch.Normalize(newData)
	if err != nil {
		return nil, fmt.Errorf("normalize data: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ws, err := loadWorkspaceForWrite(tx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if ws.DocVersion != expectedDocVersion {
		return nil, fmt.Errorf("%w: expected doc version %d, have %d", ErrVersionConflict, expectedDocVersion, ws.DocVersion)
	}

	patches := patch.Diff(ws.Data, normalized)
	if len(patches) == 0 {
		// Idempotent no-op: no event, no version bump.
		return &UpdateResult{Success: true, NoChanges: true, DocVersion: ws.DocVersion}, nil
	}

	if ws.EventVersion < ws.MaxEventVersion {
		if _, err := tx.Exec(`DELETE FROM events WHERE workspace_id = ? AND version > ?`, id, ws.EventVersion); err != nil {
			return nil, fmt.Errorf("discard undone events: %w", err)
		}
	}

	patchesJSON, err := json.Marshal(patches)
	if err != nil {
		return nil, fmt.Errorf("marshal patches: %w", err)
	}

	newVersion := ws.EventVersion + 1
	now := time.Now()
	if _, err := tx.Exec(`
		INSERT INTO events (workspace_id, version, actor_id, timestamp_ns, patches)
		VALUES (?, ?, ?, ?, ?)`,
		id, newVersion, ownerID, now.UnixNano(), string(patchesJSON),
	); err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}

	dataJSON, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	if _, err := tx.Exec(`
		UPDATE workspaces
		SET data = ?, event_version = ?, max_event_version = ?, doc_version = doc_version + 1, updated_at = ?
		WHERE id = ?`,
		string(dataJSON), newVersion, newVersion, now.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("update workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &UpdateResult{Success: true, DocVersion: ws.DocVersion + 1}, nil
}

// UndoWorkspace steps the workspace back one event by replaying the log
// prefix from the base snapshot. The tip stays where it is, so the undone
// event remains redoable.
func (s *Store) UndoWorkspace(ownerID, id string) (*StepResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ws, err := loadWorkspaceForWrite(tx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if ws.EventVersion <= 0 {
		return &StepResult{
			Success:         true,
			Message:         "nothing to undo",
			PreviousVersion: ws.EventVersion,
			CurrentVersion:  ws.EventVersion,
			DocVersion:      ws.DocVersion,
		}, nil
	}

	target := ws.EventVersion - 1
	events, err := loadEventRange(tx, id, target)
	if err != nil {
		return nil, err
	}

	// Full replay from the creation snapshot. Undo does not need invertible
	// patches this way; the cost is O(eventVersion), acceptable for
	// single-author histories.
	state := ws.BaseData
	for _, ev := range events {
		state, err = patch.Apply(state, ev.Patches)
		if err != nil {
			return nil, fmt.Errorf("replay event %d: %w", ev.Version, err)
		}
	}

	dataJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE workspaces
		SET data = ?, event_version = ?, doc_version = doc_version + 1, updated_at = ?
		WHERE id = ?`,
		string(dataJSON), target, now.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("update workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &StepResult{
		Success:         true,
		Data:            state,
		PreviousVersion: ws.EventVersion,
		CurrentVersion:  target,
		DocVersion:      ws.DocVersion + 1,
	}, nil
}

// RedoWorkspace steps the workspace forward one event. Unlike undo this is
// a single forward patch application: the event at eventVersion+1 already
// encodes exactly the delta to reapply.
func (s *Store) RedoWorkspace(ownerID, id string) (*StepResult, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	ws, err := loadWorkspaceForWrite(tx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if ws.EventVersion >= ws.MaxEventVersion {
		return &StepResult{
			Success:         true,
			Message:         "nothing to redo",
			PreviousVersion: ws.EventVersion,
			CurrentVersion:  ws.EventVersion,
			DocVersion:      ws.DocVersion,
		}, nil
	}

	target := ws.EventVersion + 1
	ev, err := loadEvent(tx, id, target)
	if err != nil {
		return nil, err
	}

	state, err := patch.Apply(ws.Data, ev.Patches)
	if err != nil {
		return nil, fmt.Errorf("apply event %d: %w", target, err)
	}

	dataJSON, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal data: %w", err)
	}
	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE workspaces
		SET data = ?, event_version = ?, doc_version = doc_version + 1, updated_at = ?
		WHERE id = ?`,
		string(dataJSON), target, now.UnixNano(), id,
	); err != nil {
		return nil, fmt.Errorf("update workspace: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &StepResult{
		Success:         true,
		Data:            state,
		PreviousVersion: ws.EventVersion,
		CurrentVersion:  target,
		DocVersion:      ws.DocVersion + 1,
	}, nil
}

// GetEvents returns the workspace's events up to and including maxVersion
// in ascending order, for diagnostics and tests. Pass a negative
// maxVersion for the whole log.
func (s *Store) GetEvents(ownerID, id string, maxVersion int64) ([]Event, error) {
	ws, err := s.GetWorkspace(ownerID, id)
	if err != nil {
		return nil, err
	}
	if ws == nil {
		return nil, ErrNotFound
	}
	if maxVersion < 0 {
		maxVersion = ws.MaxEventVersion
	}

	rows, err := s.db.Query(`
		SELECT workspace_id, version, actor_id, timestamp_ns, patches
		FROM events
		WHERE workspace_id = ? AND version <= ?
		ORDER BY version ASC`, id, maxVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return events, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// loadWorkspaceForWrite loads a workspace inside tx and authorizes the
// caller. A missing row is ErrNotFound; an owner mismatch is
// ErrAccessDenied (mutating calls may distinguish the two).
func loadWorkspaceForWrite(tx *sql.Tx, ownerID, id string) (*Workspace, error) {
	row := tx.QueryRow(`
		SELECT id, owner_id, name, data, base_data, doc_version, event_version, max_event_version, created_at, updated_at
		FROM workspaces WHERE id = ?`, id)

	ws, err := scanWorkspace(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}
	if ws.OwnerID != ownerID {
		return nil, ErrAccessDenied
	}
	return ws, nil
}

func loadEventRange(tx *sql.Tx, workspaceID string, maxVersion int64) ([]Event, error) {
	rows, err := tx.Query(`
		SELECT workspace_id, version, actor_id, timestamp_ns, patches
		FROM events
		WHERE workspace_id = ? AND version <= ?
		ORDER BY version ASC`, workspaceID, maxVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func loadEvent(tx *sql.Tx, workspaceID string, version int64) (*Event, error) {
	row := tx.QueryRow(`
		SELECT workspace_id, version, actor_id, timestamp_ns, patches
		FROM events
		WHERE workspace_id = ? AND version = ?`, workspaceID, version)

	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("event %d missing from log", version)
		}
		return nil, err
	}
	return ev, nil
}

func scanEvent(row rowScanner) (*Event, error) {
	var ev Event
	var tsNs int64
	var patchesJSON string

	if err := row.Scan(&ev.WorkspaceID, &ev.Version, &ev.ActorID, &tsNs, &patchesJSON); err != nil {
		return nil, err
	}
	ev.Timestamp = time.Unix(0, tsNs)
	if err := json.Unmarshal([]byte(patchesJSON), &ev.Patches); err != nil {
		return nil, fmt.Errorf("unmarshal patches: %w", err)
	}
	return &ev, nil
}

func scanWorkspace(row rowScanner) (*Workspace, error) {
	var ws Workspace
	var dataJSON, baseJSON string
	var createdNs, updatedNs int64

	if err := row.Scan(&ws.ID, &ws.OwnerID, &ws.Name, &dataJSON, &baseJSON, &ws.DocVersion, &ws.EventVersion, &ws.MaxEventVersion, &createdNs, &updatedNs); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(dataJSON), &ws.Data); err != nil {
		return nil, fmt.Errorf("unmarshal data: %w", err)
	}
	if err := json.Unmarshal([]byte(baseJSON), &ws.BaseData); err != nil {
		return nil, fmt.Errorf("unmarshal base data: %w", err)
	}
	ws.CreatedAt = time.Unix(0, createdNs)
	ws.UpdatedAt = time.Unix(0, updatedNs)

	return &ws, nil
}
