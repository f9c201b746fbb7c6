package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Smartdcs2026/Scan-Dcs/camera"
	"github.com/Smartdcs2026/Scan-Dcs/config"
	"github.com/Smartdcs2026/Scan-Dcs/lookup"
	"github.com/Smartdcs2026/Scan-Dcs/session"
	"go.uber.org/zap"
)

// Controller is the session surface the HTTP API drives
type Controller interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context, reason session.StopReason) error
	SwitchDevice(ctx context.Context, deviceID string) error
	Submit(ctx context.Context, query string) error
	Activity(ctx context.Context) error
	Devices(ctx context.Context) ([]camera.Device, string, error)
	Status(ctx context.Context) (session.Status, error)
	Stats(ctx context.Context) (map[string]interface{}, error)
}

// EventSource serves buffered events for polling clients
type EventSource interface {
	Since(seq int64) []session.Event
}

// Handlers manages HTTP request handlers
type Handlers struct {
	config     *config.Config
	logger     *zap.Logger
	controller Controller
	events     EventSource
	started    time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg *config.Config, controller Controller, events EventSource, logger *zap.Logger) *Handlers {
	return &Handlers{
		config:     cfg,
		logger:     logger,
		controller: controller,
		events:     events,
		started:    time.Now(),
	}
}

// HandleHealth returns health check information
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSONResponse(w, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
	})
}

// HandleAPIStatus returns the session snapshot
func (h *Handlers) HandleAPIStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.controller.Status(r.Context())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"session": st,
		"server": map[string]interface{}{
			"host":     h.config.Server.Host,
			"web_port": h.config.Server.WebPort,
		},
	})
}

// HandleAPICameras re-enumerates cameras
func (h *Handlers) HandleAPICameras(w http.ResponseWriter, r *http.Request) {
	devices, def, err := h.controller.Devices(r.Context())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	if devices == nil {
		devices = []camera.Device{}
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"devices":    devices,
		"default":    def,
		"selectable": len(devices) > 1,
	})
}

// HandleAPIStart starts the camera
func (h *Handlers) HandleAPIStart(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Start(r.Context()); err != nil {
		h.logger.Warn("Camera start failed", zap.Error(err))
		h.writeSessionError(w, err)
		return
	}
	h.writeAction(w, r, "start")
}

// HandleAPIStop stops the camera
func (h *Handlers) HandleAPIStop(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Stop(r.Context(), session.ReasonUser); err != nil {
		h.writeSessionError(w, err)
		return
	}
	h.writeAction(w, r, "stop")
}

type switchRequest struct {
	DeviceID string `json:"device_id"`
}

// HandleAPISwitch moves the running session to another camera
func (h *Handlers) HandleAPISwitch(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
		h.writeErrorResponse(w, "device_id is required", http.StatusBadRequest)
		return
	}

	if err := h.controller.SwitchDevice(r.Context(), req.DeviceID); err != nil {
		h.logger.Warn("Camera switch failed", zap.String("device", req.DeviceID), zap.Error(err))
		h.writeSessionError(w, err)
		return
	}
	h.writeAction(w, r, "switch")
}

type searchRequest struct {
	Query string `json:"query"`
}

// HandleAPISearch submits a manual query
func (h *Handlers) HandleAPISearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeErrorResponse(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.controller.Submit(r.Context(), req.Query); err != nil {
		h.writeSessionError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{"action": "search", "accepted": true})
}

// HandleAPIActivity records operator activity
func (h *Handlers) HandleAPIActivity(w http.ResponseWriter, r *http.Request) {
	if err := h.controller.Activity(r.Context()); err != nil {
		h.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleAPIStats returns decode, capture and preview counters
func (h *Handlers) HandleAPIStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.controller.Stats(r.Context())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	stats["timestamp"] = fmt.Sprintf("%d", time.Now().Unix())

	h.writeJSONResponse(w, stats)
}

// HandleAPIEvents returns buffered events after ?since=
func (h *Handlers) HandleAPIEvents(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			h.writeErrorResponse(w, "since must be a non-negative integer", http.StatusBadRequest)
			return
		}
		since = v
	}

	events := h.events.Since(since)
	if events == nil {
		events = []session.Event{}
	}

	next := since
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}

	h.writeJSONResponse(w, map[string]interface{}{
		"events": events,
		"next":   next,
	})
}

func (h *Handlers) writeAction(w http.ResponseWriter, r *http.Request, action string) {
	resp := map[string]interface{}{"action": action, "success": true}
	if st, err := h.controller.Status(r.Context()); err == nil {
		resp["session"] = st
	}
	h.writeJSONResponse(w, resp)
}

// writeSessionError maps a classified error onto a status code
func (h *Handlers) writeSessionError(w http.ResponseWriter, err error) {
	kind, msg := session.Describe(err)

	code := http.StatusInternalServerError
	var camErr *camera.Error
	var lookErr *lookup.Error
	switch {
	case errors.Is(err, session.ErrNotRunning), errors.Is(err, session.ErrSuperseded):
		code = http.StatusConflict
	case errors.Is(err, lookup.ErrEmptyQuery):
		code = http.StatusBadRequest
	case errors.Is(err, session.ErrClosed), errors.Is(err, context.Canceled):
		code = http.StatusServiceUnavailable
	case errors.As(err, &camErr):
		switch camErr.Kind {
		case camera.KindPermissionDenied:
			code = http.StatusForbidden
		case camera.KindDeviceNotFound:
			code = http.StatusNotFound
		case camera.KindDeviceBusy:
			code = http.StatusConflict
		default:
			code = http.StatusServiceUnavailable
		}
	case errors.As(err, &lookErr):
		code = http.StatusBadGateway
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  msg,
		"kind":   kind,
		"status": code,
	})
}

// writeJSONResponse writes a JSON response
func (h *Handlers) writeJSONResponse(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", zap.Error(err))
	}
}

// writeErrorResponse writes an error response
func (h *Handlers) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	json.NewEncoder(w).Encode(map[string]interface{}{
		"error":  message,
		"status": statusCode,
	})
}
