package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/0xmhha/event-collector/internal/constants"
	"github.com/0xmhha/event-collector/pkg/ingest"
	"github.com/0xmhha/event-collector/pkg/storage"
)

// Response is the body of start, stop and error responses
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string              `json:"status"`
	Timestamp string              `json:"timestamp"`
	Running   int                 `json:"running"`
	EventBus  *EventBusHealthInfo `json:"eventbus,omitempty"`
}

// EventBusHealthInfo contains EventBus health information
type EventBusHealthInfo struct {
	Healthy         bool   `json:"healthy"`
	Subscribers     int    `json:"subscribers"`
	TotalEvents     uint64 `json:"total_events"`
	TotalDeliveries uint64 `json:"total_deliveries"`
	DroppedEvents   uint64 `json:"dropped_events"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.service.StartSubscription(r.Context(), id); err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("failed to start subscription", zap.Uint64("subscription", id), zap.Error(err))
		}
		s.writeError(w, status, err)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Message: "subscription started"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id, err := subscriptionIDParam(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	if !s.service.StopSubscription(id) {
		s.writeJSON(w, http.StatusOK, Response{Success: false, Message: "subscription is not running"})
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Success: true, Message: "subscription stopped"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q, err := parseEventQuery(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	events, err := s.service.ListEvents(r.Context(), q)
	if err != nil {
		s.logger.Error("failed to list events", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStats(r.Context())
	if err != nil {
		s.logger.Error("failed to get stats", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	running := s.service.Running()
	if running == nil {
		running = []ingest.RunnerInfo{}
	}
	s.writeJSON(w, http.StatusOK, running)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Running:   len(s.service.Running()),
	}

	if s.eventBus != nil {
		totalEvents, totalDeliveries, droppedEvents := s.eventBus.Stats()
		response.EventBus = &EventBusHealthInfo{
			Healthy:         s.eventBus.Healthy(),
			Subscribers:     s.eventBus.SubscriberCount(),
			TotalEvents:     totalEvents,
			TotalDeliveries: totalDeliveries,
			DroppedEvents:   droppedEvents,
		}
		if !response.EventBus.Healthy {
			response.Status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

// statusFor maps controller errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, ingest.ErrNotFound), errors.Is(err, ingest.ErrChainNotFound):
		return http.StatusNotFound
	case errors.Is(err, ingest.ErrInactive), errors.Is(err, ingest.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, ingest.ErrABI), errors.Is(err, ingest.ErrFilter):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingest.ErrRPC):
		return http.StatusBadGateway
	case errors.Is(err, ingest.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func subscriptionIDParam(r *http.Request) (uint64, error) {
	raw := chi.URLParam(r, "subscriptionId")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid subscription id %q", raw)
	}
	return id, nil
}

// parseEventQuery reads subscriptionId, chainId and limit. Zero ids do not filter;
// a missing or non-positive limit yields the default and large limits are capped.
func parseEventQuery(r *http.Request) (storage.EventQuery, error) {
	values := r.URL.Query()
	q := storage.EventQuery{Limit: constants.DefaultEventLimit}

	for name, dst := range map[string]**uint64{
		"subscriptionId": &q.SubscriptionID,
		"chainId":        &q.ChainID,
	} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return q, fmt.Errorf("invalid %s %q", name, raw)
		}
		if v != 0 {
			*dst = &v
		}
	}

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return q, fmt.Errorf("invalid limit %q", raw)
		}
		switch {
		case limit <= 0:
			q.Limit = constants.DefaultEventLimit
		case limit > constants.MaxEventLimit:
			q.Limit = constants.MaxEventLimit
		default:
			q.Limit = limit
		}
	}
	return q, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, Response{Success: false, Error: err.Error()})
}
