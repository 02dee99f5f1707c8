package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dmd/devicetracker/internal/services"
)

const maxBodyBytes = 1 << 20

type contextKey string

const (
	contextIdentityKey contextKey = "identity"
	contextSessionKey  contextKey = "session_id"
	contextRequestKey  contextKey = "request_info"
)

// ErrorResponse is a simple error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// requestInfo is shared between the logging middleware and the auth
// middleware so the access log can name the authenticated user.
type requestInfo struct {
	userID string
}

func identityFromContext(ctx context.Context) (services.Identity, error) {
	identity, ok := ctx.Value(contextIdentityKey).(services.Identity)
	if !ok || identity.UserID == "" {
		return services.Identity{}, errors.New("missing identity")
	}
	return identity, nil
}

func sessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextSessionKey).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request")
	}
	return nil
}

// writeServiceError maps a service error to a status code. ErrPersistence
// is not handled here: callers answer with success and a warning.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidDevice),
		errors.Is(err, services.ErrDeviceTypeMismatch),
		errors.Is(err, services.ErrInvalidUserID),
		errors.Is(err, services.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, rootMessage(err))
	case errors.Is(err, services.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, rootMessage(err))
	case errors.Is(err, services.ErrForbidden),
		errors.Is(err, services.ErrProtectedAccount):
		writeError(w, http.StatusForbidden, rootMessage(err))
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, rootMessage(err))
	case errors.Is(err, services.ErrDeviceUnavailable),
		errors.Is(err, services.ErrQuotaExceeded),
		errors.Is(err, services.ErrNotCheckedOut),
		errors.Is(err, services.ErrDuplicateID):
		writeError(w, http.StatusConflict, rootMessage(err))
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// rootMessage returns the text of the sentinel at the bottom of err.
func rootMessage(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

const persistenceWarning = "change applied but could not be saved"

// splitPersistence separates a persistence failure, whose change is still
// committed in memory, from an error that rejected the request.
func splitPersistence(err error) (warning string, rejected error) {
	if err != nil && errors.Is(err, services.ErrPersistence) {
		return persistenceWarning, nil
	}
	return "", err
}

func parseDeviceID(raw string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid device id %q", raw)
	}
	return id, nil
}

// parseTimeParam accepts RFC 3339 timestamps, a bare date or a date with
// hour and minute, all in UTC. A bare date or minute is its start, or its
// last instant when inclusiveEnd is set.
func parseTimeParam(raw string, inclusiveEnd bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		t = t.UTC()
		return &t, nil
	}

	var t time.Time
	var span time.Duration
	if parsed, err := time.Parse(time.DateOnly, raw); err == nil {
		t, span = parsed, 24*time.Hour
	} else if parsed, err := time.Parse("2006-01-02T15:04", raw); err == nil {
		t, span = parsed, time.Minute
	} else {
		return nil, fmt.Errorf("invalid time %q", raw)
	}
	if inclusiveEnd {
		t = t.Add(span - time.Nanosecond)
	}
	return &t, nil
}
