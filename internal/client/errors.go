package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Client-side error taxonomy. The retry policy treats the authentication,
// access and conflict classes as fatal; everything else (network faults,
// server errors) is transient.
var (
	ErrNotFound        = errors.New("not found")
	ErrAccessDenied    = errors.New("access denied")
	ErrVersionConflict = errors.New("version conflict")
	ErrTokenExpired    = errors.New("token expired")
	ErrSessionNotFound = errors.New("auth session not found")
	ErrSessionExpired  = errors.New("auth session expired")
	ErrDuplicateCode   = errors.New("auth session code already registered")
	ErrNetwork         = errors.New("network error")
	ErrServer          = errors.New("server error")
)

// apiError is the JSON error body the server sends.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorFromResponse(resp *http.Response) error {
	var body apiError
	_ = json.NewDecoder(resp.Body).Decode(&body)

	sentinel := sentinelFor(resp.StatusCode, body.Code)
	if body.Message != "" {
		return fmt.Errorf("%w: %s", sentinel, body.Message)
	}
	return fmt.Errorf("%w: http %d", sentinel, resp.StatusCode)
}

func sentinelFor(status int, code string) error {
	switch code {
	case "VERSION_CONFLICT":
		return ErrVersionConflict
	case "TOKEN_EXPIRED":
		return ErrTokenExpired
	case "SESSION_NOT_FOUND":
		return ErrSessionNotFound
	case "SESSION_EXPIRED":
		return ErrSessionExpired
	case "SESSION_EXISTS":
		return ErrDuplicateCode
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAccessDenied
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrVersionConflict
	default:
		return ErrServer
	}
}

// IsNotFound reports whether err means the resource does not exist (or is
// invisible to the caller).
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsFatal reports whether err is definitional rather than transient: a
// retry cannot fix authentication failures, access denials, conflicts or
// terminal handshake states. Unrecognized errors are also sniffed by
// message so that wrapped errors from other layers classify correctly.
func IsFatal(err error) bool {
	switch {
	case errors.Is(err, ErrAccessDenied),
		errors.Is(err, ErrVersionConflict),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrSessionExpired),
		errors.Is(err, ErrSessionNotFound),
		errors.Is(err, ErrDuplicateCode):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"access denied", "version conflict", "unauthenticated", "token expired", "unauthorized"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
