package ingest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/shayan-deriv/multi-touch-attribution/internal/monitoring"
	"github.com/shayan-deriv/multi-touch-attribution/internal/store"
	"github.com/shayan-deriv/multi-touch-attribution/pkg/mta"
)

const (
	// maxBatchSize bounds one batch request so a single client cannot hold a
	// transaction open indefinitely.
	maxBatchSize = 500

	// defaultStatsLookbackHours is the stats window when the request does not
	// name one.
	defaultStatsLookbackHours = 24
)

// Server is the collector's HTTP surface: event ingest, journey reads, and
// aggregate stats.
type Server struct {
	store     store.Store
	sink      Sink
	collector *monitoring.Collector
	router    chi.Router
}

// NewServer wires the ingest API. allowedOrigins configures CORS for browser
// recorders posting directly; an empty list admits any origin, which is the
// normal posture for a public collector endpoint.
func NewServer(st store.Store, sink Sink, allowedOrigins []string) *Server {
	if sink == nil {
		sink = NopSink{}
	}
	s := &Server{
		store:     st,
		sink:      sink,
		collector: monitoring.NewCollector(st),
	}
	s.router = s.routes(allowedOrigins)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(allowedOrigins []string) chi.Router {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Post("/events/batch", s.handleBatch)
		r.Get("/journeys/{deviceID}", s.handleJourney)
		r.Get("/stats", s.handleStats)
	})
	return r
}

// requestLogger emits one structured line per request at debug level, so the
// default info level is not flooded by per-event traffic.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		zap.L().Debug("ingest: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// validateEnvelope returns a problem description, or "" when the envelope is
// acceptable.
func validateEnvelope(env mta.Envelope) string {
	switch {
	case env.DeviceID == "":
		return "device_id is required"
	case env.Event.ID == "":
		return "event.id is required"
	case env.Event.URL == "":
		return "event.url is required"
	}
	return ""
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var env mta.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if msg := validateEnvelope(env); msg != "" {
		http.Error(w, `{"error":"`+msg+`"}`, http.StatusBadRequest)
		return
	}

	receivedAt := time.Now().UTC()
	if err := s.store.InsertEvent(r.Context(), store.EventFromEnvelope(env, receivedAt)); err != nil {
		zap.L().Error("ingest: insert event failed",
			zap.String("event_id", env.Event.ID),
			zap.String("device_id", env.DeviceID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}

	s.recordIdentity(r, store.Identity{
		DeviceID:      env.DeviceID,
		UserID:        env.UserID,
		PriorDeviceID: env.PriorDeviceID,
		LastSeen:      receivedAt,
	})

	if err := s.sink.Publish(r.Context(), env); err != nil {
		zap.L().Warn("ingest: sink publish failed",
			zap.String("event_id", env.Event.ID),
			zap.Error(err),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status":   "accepted",
		"event_id": env.Event.ID,
	})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var envs []mta.Envelope
	if err := json.NewDecoder(r.Body).Decode(&envs); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}
	if len(envs) == 0 {
		http.Error(w, `{"error":"empty batch"}`, http.StatusBadRequest)
		return
	}
	if len(envs) > maxBatchSize {
		http.Error(w, fmt.Sprintf(`{"error":"batch exceeds %d envelopes"}`, maxBatchSize), http.StatusBadRequest)
		return
	}

	receivedAt := time.Now().UTC()
	events := make([]store.Event, 0, len(envs))
	for i, env := range envs {
		if msg := validateEnvelope(env); msg != "" {
			http.Error(w, fmt.Sprintf(`{"error":"envelope %d: %s"}`, i, msg), http.StatusBadRequest)
			return
		}
		events = append(events, store.EventFromEnvelope(env, receivedAt))
	}

	inserted, err := s.store.InsertEvents(r.Context(), events)
	if err != nil {
		zap.L().Error("ingest: insert batch failed",
			zap.Int("envelopes", len(envs)),
			zap.Error(err),
		)
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}

	// One upsert per device. Later envelopes may carry the user id an earlier
	// one lacked, so merge before writing.
	identities := make(map[string]store.Identity, len(envs))
	for _, env := range envs {
		id := identities[env.DeviceID]
		id.DeviceID = env.DeviceID
		if env.UserID != "" {
			id.UserID = env.UserID
		}
		if env.PriorDeviceID != "" {
			id.PriorDeviceID = env.PriorDeviceID
		}
		id.LastSeen = receivedAt
		identities[env.DeviceID] = id
	}
	for _, id := range identities {
		s.recordIdentity(r, id)
	}

	for _, env := range envs {
		if err := s.sink.Publish(r.Context(), env); err != nil {
			zap.L().Warn("ingest: sink publish failed",
				zap.String("event_id", env.Event.ID),
				zap.Error(err),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]any{
		"status":   "accepted",
		"inserted": inserted,
	})
}

// recordIdentity upserts the device row. Failures are logged, not surfaced:
// the event is already stored and identity rows can be rebuilt from events.
func (s *Server) recordIdentity(r *http.Request, id store.Identity) {
	if err := s.store.UpsertIdentity(r.Context(), id); err != nil {
		zap.L().Warn("ingest: upsert identity failed",
			zap.String("device_id", id.DeviceID),
			zap.Error(err),
		)
	}
}

func (s *Server) handleJourney(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")

	identity, err := s.store.GetIdentity(r.Context(), deviceID)
	if err != nil {
		zap.L().Error("ingest: get identity failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}
	if identity == nil {
		http.Error(w, `{"error":"unknown device"}`, http.StatusNotFound)
		return
	}

	filter := store.EventFilter{DeviceID: deviceID}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n < 1 {
			http.Error(w, `{"error":"invalid limit"}`, http.StatusBadRequest)
			return
		}
		filter.Limit = n
	}

	events, err := s.store.ListEvents(r.Context(), filter)
	if err != nil {
		zap.L().Error("ingest: list events failed",
			zap.String("device_id", deviceID),
			zap.Error(err),
		)
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(journeyResponse{Identity: *identity, Events: events})
}

// journeyResponse is the server-side journey view: the device's identity row
// plus its stored events, oldest first.
type journeyResponse struct {
	Identity store.Identity `json:"identity"`
	Events   []store.Event  `json:"events"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	hours := defaultStatsLookbackHours
	if raw := r.URL.Query().Get("hours"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			http.Error(w, `{"error":"invalid hours"}`, http.StatusBadRequest)
			return
		}
		hours = n
	}

	snap, err := s.collector.Collect(r.Context(), hours)
	if err != nil {
		zap.L().Error("ingest: collect stats failed", zap.Error(err))
		http.Error(w, `{"error":"storage failure"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(snap)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Error("ingest: health check failed", zap.Error(err))
		http.Error(w, `{"error":"store unavailable"}`, http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
