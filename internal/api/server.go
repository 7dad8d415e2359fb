package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fleet-trajectory-analytics/internal/analytics"
	"fleet-trajectory-analytics/internal/db"
	"fleet-trajectory-analytics/internal/fleet"
	"fleet-trajectory-analytics/internal/models"
	"fleet-trajectory-analytics/internal/parser"
	"fleet-trajectory-analytics/internal/report"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// store is the persistence the API needs
type store interface {
	ListVehicles(ctx context.Context) ([]models.Vehicle, error)
	GetVehicle(ctx context.Context, id string) (*models.Vehicle, error)
	InsertVehicle(ctx context.Context, v *models.Vehicle) error
	InsertSamples(ctx context.Context, samples []models.PositionSample) (int64, error)
	GetStats(ctx context.Context) (map[string]interface{}, error)
}

// reports produces the analytics reports
type reports interface {
	Trips(ctx context.Context, q report.Query) (*report.TripReport, error)
	Stops(ctx context.Context, q report.Query) (*report.StopReport, error)
	Incidents(ctx context.Context, q report.Query) (*report.IncidentReport, error)
	Infractions(ctx context.Context, q report.Query) (*report.InfractionReport, error)
	Mileage(ctx context.Context, vehicleID string, req analytics.MileageRequest) (*models.MileageReport, error)
	FleetIncidents(ctx context.Context, q report.FleetQuery) (*report.IncidentReport, error)
	FleetInfractions(ctx context.Context, q report.FleetQuery) (*report.InfractionReport, error)
	Location() *time.Location
}

// Server represents the API server
type Server struct {
	db      store
	reports reports
	router  *mux.Router
}

// NewServer creates a new API server
func NewServer(database store, svc reports) *Server {
	s := &Server{
		db:      database,
		reports: svc,
		router:  mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Vehicle endpoints
	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles", s.handleCreateVehicle).Methods("POST")
	s.router.HandleFunc("/api/v1/vehicles/{id}", s.handleGetVehicle).Methods("GET")

	// Ingestion endpoints
	s.router.HandleFunc("/api/v1/telemetry", s.handleCreateSample).Methods("POST")
	s.router.HandleFunc("/api/v1/telemetry/batch", s.handleBatchSamples).Methods("POST")

	// Per-vehicle reports
	s.router.HandleFunc("/api/v1/vehicles/{id}/trips", s.handleTrips).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/{id}/stops", s.handleStops).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/{id}/mileage", s.handleMileage).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/{id}/incidents", s.handleIncidents).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles/{id}/infractions", s.handleInfractions).Methods("GET")

	// Fleet reports
	s.router.HandleFunc("/api/v1/fleet/incidents", s.handleFleetIncidents).Methods("GET")
	s.router.HandleFunc("/api/v1/fleet/infractions", s.handleFleetInfractions).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(requestIDMiddleware)
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("%s %s %d %v %s", r.Method, r.URL.Path, rec.status, time.Since(start), r.Header.Get("X-Request-ID"))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total   int   `json:"total,omitempty"`
	QueryMs int64 `json:"query_ms,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, data interface{}, m *meta) {
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondFailure maps an error to its HTTP status
func respondFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fleet.ErrSuperseded):
		respondError(w, http.StatusConflict, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

// parseRange reads from/to as RFC3339 or YYYY-MM-DD. A bare date for "to"
// covers the whole day.
func parseRange(r *http.Request, loc *time.Location) (time.Time, time.Time, error) {
	from, err := parseTime(r.URL.Query().Get("from"), loc, false)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: from: %v", analytics.ErrInvalidConfig, err)
	}
	to, err := parseTime(r.URL.Query().Get("to"), loc, true)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: to: %v", analytics.ErrInvalidConfig, err)
	}
	return from, to, nil
}

func parseTime(v string, loc *time.Location, endOfDay bool) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseInLocation("2006-01-02", v, loc); err == nil {
		if endOfDay {
			return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
		}
		return d, nil
	}
	return models.ParseTimestamp(v)
}

func (s *Server) vehicleQuery(r *http.Request) (report.Query, error) {
	from, to, err := parseRange(r, s.reports.Location())
	if err != nil {
		return report.Query{}, err
	}
	q := report.Query{
		VehicleID: mux.Vars(r)["id"],
		From:      from,
		To:        to,
		Target:    r.URL.Query().Get("target"),
	}
	if q.Types, err = parseTypes(r); err != nil {
		return report.Query{}, err
	}
	if q.LimitKph, err = parseLimit(r); err != nil {
		return report.Query{}, err
	}
	return q, nil
}

func (s *Server) fleetQuery(r *http.Request) (report.FleetQuery, error) {
	from, to, err := parseRange(r, s.reports.Location())
	if err != nil {
		return report.FleetQuery{}, err
	}
	q := report.FleetQuery{
		From:   from,
		To:     to,
		Target: r.URL.Query().Get("target"),
	}
	if v := r.URL.Query().Get("vehicles"); v != "" {
		for _, id := range strings.Split(v, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.VehicleIDs = append(q.VehicleIDs, id)
			}
		}
	}
	if q.Types, err = parseTypes(r); err != nil {
		return report.FleetQuery{}, err
	}
	if q.LimitKph, err = parseLimit(r); err != nil {
		return report.FleetQuery{}, err
	}
	return q, nil
}

func parseTypes(r *http.Request) (*analytics.IncidentTypes, error) {
	if _, ok := r.URL.Query()["types"]; !ok {
		return nil, nil
	}
	types, err := analytics.ParseIncidentTypes(r.URL.Query().Get("types"))
	if err != nil {
		return nil, err
	}
	return &types, nil
}

func parseLimit(r *http.Request) (*float64, error) {
	v := r.URL.Query().Get("limit_kph")
	if v == "" {
		return nil, nil
	}
	limit, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: limit_kph must be a number", analytics.ErrInvalidConfig)
	}
	return &limit, nil
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.db.ListVehicles(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, vehicles, &meta{Total: len(vehicles)})
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if v.ID == "" || v.Name == "" {
		respondError(w, http.StatusBadRequest, "id and name are required")
		return
	}

	if err := s.db.InsertVehicle(r.Context(), &v); err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vehicle, err := s.db.GetVehicle(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondJSON(w, http.StatusOK, vehicle)
}

func (s *Server) handleCreateSample(w http.ResponseWriter, r *http.Request) {
	var sample models.PositionSample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if errs := parser.ValidateSample(&sample); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, errs[0])
		return
	}

	if _, err := s.db.InsertSamples(r.Context(), []models.PositionSample{sample}); err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, sample)
}

func (s *Server) handleBatchSamples(w http.ResponseWriter, r *http.Request) {
	var samples []models.PositionSample
	if err := json.NewDecoder(r.Body).Decode(&samples); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}

	if len(samples) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	for i := range samples {
		if errs := parser.ValidateSample(&samples[i]); len(errs) > 0 {
			respondError(w, http.StatusBadRequest, fmt.Sprintf("record %d: %s", i, errs[0]))
			return
		}
	}

	count, err := s.db.InsertSamples(r.Context(), samples)
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]int64{"inserted": count})
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.vehicleQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.Trips(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: rep.TripCount, QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleStops(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.vehicleQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.Stops(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: rep.StopCount, QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleMileage(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	from, to, err := parseRange(r, s.reports.Location())
	if err != nil {
		respondFailure(w, err)
		return
	}

	period := models.PeriodType(r.URL.Query().Get("period"))
	if period == "" {
		period = models.PeriodDay
	}
	if to.IsZero() {
		to = from
	}

	rep, err := s.reports.Mileage(r.Context(), mux.Vars(r)["id"], analytics.MileageRequest{
		Period:   period,
		From:     from,
		To:       to,
		Location: s.reports.Location(),
	})
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: len(rep.Buckets), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.vehicleQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.Incidents(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: len(rep.Incidents), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleInfractions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.vehicleQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.Infractions(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: rep.Total, QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleFleetIncidents(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.fleetQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.FleetIncidents(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: len(rep.Incidents), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleFleetInfractions(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	q, err := s.fleetQuery(r)
	if err != nil {
		respondFailure(w, err)
		return
	}
	rep, err := s.reports.FleetInfractions(r.Context(), q)
	if err != nil {
		respondFailure(w, err)
		return
	}
	respondWithMeta(w, rep, &meta{Total: rep.Total, QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats(r.Context())
	if err != nil {
		respondFailure(w, err)
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
