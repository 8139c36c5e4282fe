package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateSession registers a new pending handshake session for the given
// code. The code is the primary key, so re-registering one fails with
// ErrDuplicateCode.
func (s *Store) CreateSession(code string) error {
	_, err := s.db.Exec(`
		INSERT INTO auth_sessions (code, status, created_at)
		VALUES (?, ?, ?)`,
		code, SessionPending, time.Now().UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return ErrDuplicateCode
		}
		return fmt.Errorf("insert auth session: %w", err)
	}
	return nil
}

// GetSession returns the session for the code. A pending session older
// than timeout is marked expired before being returned, so pollers always
// observe a terminal status once the server-side deadline has passed.
func (s *Store) GetSession(code string, timeout time.Duration) (*AuthSession, error) {
	sess, err := s.loadSession(code)
	if err != nil {
		return nil, err
	}

	if sess.Status == SessionPending && time.Since(sess.CreatedAt) > timeout {
		if err := s.markExpired(code); err != nil {
			return nil, err
		}
		sess.Status = SessionExpired
	}
	return sess, nil
}

// CompleteSession attaches the freshly issued token to a pending session.
// Fails with ErrSessionExpired if the session is not pending or has passed
// the server-side timeout (in which case it is marked expired).
func (s *Store) CompleteSession(code, token string, expiresAt *time.Time, timeout time.Duration) error {
	sess, err := s.loadSession(code)
	if err != nil {
		return err
	}

	if sess.Status != SessionPending {
		return ErrSessionExpired
	}
	if time.Since(sess.CreatedAt) > timeout {
		if err := s.markExpired(code); err != nil {
			return err
		}
		return ErrSessionExpired
	}

	var expiresNs *int64
	if expiresAt != nil {
		ns := expiresAt.UnixNano()
		expiresNs = &ns
	}

	_, err = s.db.Exec(`
		UPDATE auth_sessions SET status = ?, token = ?, expires_at = ?
		WHERE code = ? AND status = ?`,
		SessionCompleted, token, expiresNs, code, SessionPending,
	)
	if err != nil {
		return fmt.Errorf("complete auth session: %w", err)
	}
	return nil
}

// SweepExpiredSessions marks pending sessions older than timeout expired
// and deletes terminal sessions older than retain. Returns how many rows
// were touched.
func (s *Store) SweepExpiredSessions(timeout, retain time.Duration) (int64, error) {
	now := time.Now()

	res, err := s.db.Exec(`
		UPDATE auth_sessions SET status = ?
		WHERE status = ? AND created_at < ?`,
		SessionExpired, SessionPending, now.Add(-timeout).UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("expire auth sessions: %w", err)
	}
	expired, _ := res.RowsAffected()

	res, err = s.db.Exec(`
		DELETE FROM auth_sessions
		WHERE status != ? AND created_at < ?`,
		SessionPending, now.Add(-retain).UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete stale auth sessions: %w", err)
	}
	deleted, _ := res.RowsAffected()

	return expired + deleted, nil
}

func (s *Store) loadSession(code string) (*AuthSession, error) {
	var sess AuthSession
	var token sql.NullString
	var expiresNs sql.NullInt64
	var createdNs int64

	err := s.db.QueryRow(`
		SELECT code, status, token, expires_at, created_at
		FROM auth_sessions WHERE code = ?`, code,
	).Scan(&sess.Code, &sess.Status, &token, &expiresNs, &createdNs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get auth session: %w", err)
	}

	sess.Token = token.String
	if expiresNs.Valid {
		t := time.Unix(0, expiresNs.Int64)
		sess.ExpiresAt = &t
	}
	sess.CreatedAt = time.Unix(0, createdNs)

	return &sess, nil
}

func (s *Store) markExpired(code string) error {
	_, err := s.db.Exec(`UPDATE auth_sessions SET status = ? WHERE code = ?`, SessionExpired, code)
	if err != nil {
		return fmt.Errorf("expire auth session: %w", err)
	}
	return nil
}
