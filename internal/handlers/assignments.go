package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/dmd/devicetracker/internal/services"
	"github.com/dmd/devicetracker/types"
	"github.com/go-chi/chi/v5"
)

// AssignmentHandler serves the device pool and the checkout ledger.
type AssignmentHandler struct {
	ledger *services.AssignmentLedger
}

func NewAssignmentHandler(ledger *services.AssignmentLedger) *AssignmentHandler {
	return &AssignmentHandler{ledger: ledger}
}

// DeviceRouter registers device routes. Every route needs authentication.
func DeviceRouter(r chi.Router, h *AssignmentHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/", h.ListDevices)
	r.Get("/available", h.AvailableDevices)
}

// AssignmentRouter registers the self-service checkout routes.
func AssignmentRouter(r chi.Router, h *AssignmentHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware)
	r.Get("/active", h.ListActive)
	r.Get("/history", h.History)
	r.Post("/checkout", h.Checkout)
	r.Post("/checkin", h.Checkin)
}

// AdminAssignmentRouter registers assignment routes for coaches and
// specialists.
func AdminAssignmentRouter(r chi.Router, h *AssignmentHandler, authMiddleware func(http.Handler) http.Handler) {
	r.Use(authMiddleware, requireRole(types.Role.CanManageDevices))
	r.Post("/", h.AdminAssign)
	r.Post("/{deviceID}/return", h.ForceReturn)
}

// ListDevices returns the whole pool. Athletes only see holders of their
// own devices.
func (h *AssignmentHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	devices := h.ledger.Devices()
	if !identity.Role.CanManageDevices() {
		for i := range devices {
			if devices[i].Holder != nil && devices[i].Holder.UserID != identity.UserID {
				devices[i].Holder = &types.Assignment{
					DeviceID:     devices[i].Holder.DeviceID,
					DeviceType:   devices[i].Holder.DeviceType,
					CheckoutTime: devices[i].Holder.CheckoutTime,
				}
			}
		}
	}
	writeJSON(w, http.StatusOK, DeviceListResponse{Items: devices})
}

// AvailableDevices lists free device ids, optionally for one type.
func (h *AssignmentHandler) AvailableDevices(w http.ResponseWriter, r *http.Request) {
	deviceTypes := types.DeviceTypes
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		deviceType, ok := types.ParseDeviceType(raw)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid device type")
			return
		}
		deviceTypes = []types.DeviceType{deviceType}
	}

	resp := AvailableResponse{Available: make(map[types.DeviceType][]int, len(deviceTypes))}
	for _, deviceType := range deviceTypes {
		ids := h.ledger.Available(deviceType)
		if ids == nil {
			ids = []int{}
		}
		resp.Available[deviceType] = ids
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListActive returns open assignments: all of them for device managers,
// the caller's own for athletes.
func (h *AssignmentHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var items []types.Assignment
	if identity.Role.CanManageDevices() {
		items = h.ledger.Active()
	} else {
		items = h.ledger.ActiveForUser(identity.UserID)
	}
	if items == nil {
		items = []types.Assignment{}
	}
	writeJSON(w, http.StatusOK, AssignmentListResponse{Items: items})
}

// History returns filtered records, newest first. Athletes are always
// limited to their own records.
func (h *AssignmentHandler) History(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !identity.Role.CanManageDevices() {
		if filter.UserID != nil && *filter.UserID != identity.UserID {
			writeError(w, http.StatusForbidden, "athletes can only view their own history")
			return
		}
		self := identity.UserID
		filter.UserID = &self
	}

	writeJSON(w, http.StatusOK, AssignmentListResponse{Items: h.ledger.History(filter)})
}

// Checkout hands a device to the caller.
func (h *AssignmentHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.DeviceID == 0 {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	record, err := h.ledger.Checkout(r.Context(), identity.UserID, req.DeviceID)
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AssignmentResponse{Assignment: record, Warning: warning})
}

// Checkin returns a device. Athletes may only return devices they hold.
func (h *AssignmentHandler) Checkin(w http.ResponseWriter, r *http.Request) {
	identity, err := identityFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CheckinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if req.DeviceID == 0 {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}

	var record types.Assignment
	if identity.Role.CanManageDevices() {
		record, err = h.ledger.Checkin(r.Context(), req.DeviceID)
	} else {
		record, err = h.ledger.CheckinBy(r.Context(), identity.UserID, req.DeviceID)
	}
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignmentResponse{Assignment: record, Warning: warning})
}

// AdminAssign checks a device out on behalf of another user.
func (h *AssignmentHandler) AdminAssign(w http.ResponseWriter, r *http.Request) {
	var req AdminAssignRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || req.DeviceID == 0 {
		writeError(w, http.StatusBadRequest, "user_id and device_id are required")
		return
	}

	deviceType, ok := types.DeviceTypeOf(req.DeviceID)
	if req.DeviceType != "" {
		deviceType, ok = types.ParseDeviceType(req.DeviceType)
		if !ok {
			writeError(w, http.StatusBadRequest, "invalid device type")
			return
		}
	} else if !ok {
		writeServiceError(w, services.ErrInvalidDevice)
		return
	}

	record, err := h.ledger.AdminAssign(r.Context(), req.UserID, req.DeviceID, deviceType)
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, AssignmentResponse{Assignment: record, Warning: warning})
}

// ForceReturn closes the open assignment of a device whoever holds it.
func (h *AssignmentHandler) ForceReturn(w http.ResponseWriter, r *http.Request) {
	deviceID, err := parseDeviceID(chi.URLParam(r, "deviceID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	record, err := h.ledger.ForceReturn(r.Context(), deviceID)
	warning, err := splitPersistence(err)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AssignmentResponse{Assignment: record, Warning: warning})
}

type CheckoutRequest struct {
	DeviceID int `json:"device_id"`
}

type CheckinRequest struct {
	DeviceID int `json:"device_id"`
}

type AdminAssignRequest struct {
	UserID   string `json:"user_id"`
	DeviceID int    `json:"device_id"`
	// DeviceType is optional; when set it must match the device id range.
	DeviceType string `json:"device_type,omitempty"`
}

type AssignmentResponse struct {
	Assignment types.Assignment `json:"assignment"`
	Warning    string           `json:"warning,omitempty"`
}

type AssignmentListResponse struct {
	Items []types.Assignment `json:"items"`
}

type DeviceListResponse struct {
	Items []types.DeviceStatus `json:"items"`
}

type AvailableResponse struct {
	Available map[types.DeviceType][]int `json:"available"`
}

func parseHistoryFilter(r *http.Request) (types.HistoryFilter, error) {
	var filter types.HistoryFilter
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("device_id")); raw != "" {
		id, err := parseDeviceID(raw)
		if err != nil {
			return filter, err
		}
		filter.DeviceID = &id
	}
	if raw := strings.TrimSpace(q.Get("device_type")); raw != "" {
		deviceType, ok := types.ParseDeviceType(raw)
		if !ok {
			return filter, errors.New("invalid device type")
		}
		filter.DeviceType = &deviceType
	}
	if raw := strings.TrimSpace(q.Get("user_id")); raw != "" {
		filter.UserID = &raw
	}

	start, err := parseTimeParam(q.Get("start"), false)
	if err != nil {
		return filter, err
	}
	end, err := parseTimeParam(q.Get("end"), true)
	if err != nil {
		return filter, err
	}
	if start != nil && end != nil && end.Before(*start) {
		return filter, errors.New("end is before start")
	}
	filter.Start, filter.End = start, end
	return filter, nil
}
