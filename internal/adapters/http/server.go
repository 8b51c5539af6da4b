// Package http exposes the request service as a JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/approvals/internal/core/request"
	"github.com/example/approvals/internal/ctxutil"
	"github.com/example/approvals/internal/logging"
	"github.com/example/approvals/internal/metrics"
	"github.com/example/approvals/internal/ports/primary"
	"github.com/example/approvals/internal/version"
)

// ActorHeader carries the acting username on mutating requests.
const ActorHeader = "X-Actor"

// DefaultPageSize is used when page is given without page_size.
const DefaultPageSize = 10

// MaxPageSize caps page_size.
const MaxPageSize = 100

// Server holds the dependencies of the HTTP handlers.
type Server struct {
	service  primary.RequestService
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	validate *validator.Validate
}

// Option configures the API server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics instruments handlers and serves /metrics from gatherer.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) {
		s.metrics = m
		s.gatherer = gatherer
	}
}

// NewHandler creates the router for the request API.
func NewHandler(service primary.RequestService, opts ...Option) http.Handler {
	s := &Server{
		service:  service,
		logger:   logging.NewNop(),
		validate: newValidator(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)
	r.Use(actorFromHeader)

	r.Get("/health", s.health)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/requests", func(r chi.Router) {
		r.Get("/", s.listRequests)
		r.Post("/", s.createRequest)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getRequest)
			r.Patch("/", s.updateRequest)
			r.Delete("/", s.deleteRequest)
			r.Post("/transition", s.transitionRequest)
			r.Post("/approve", s.shortcut(s.service.ApproveRequest))
			r.Post("/reject", s.shortcut(s.service.RejectRequest))
			r.Post("/cancel", s.shortcut(s.service.CancelRequest))
			r.Post("/review", s.shortcut(s.service.StartReview))
		})
	})
	r.Get("/users/{user}/requests", s.listUserRequests)
	r.Get("/stats", s.stats)
	r.Get("/dashboard", s.dashboard)

	return r
}

type createBody struct {
	Title       string `json:"title" validate:"required"`
	Description string `json:"description" validate:"required"`
	Requester   string `json:"requester" validate:"required,max=100"`
	Approver    string `json:"approver" validate:"required,max=100"`
	Type        string `json:"type" validate:"required"`
}

type updateBody struct {
	Title       *string `json:"title" validate:"omitempty"`
	Description *string `json:"description" validate:"omitempty"`
	Type        *string `json:"type" validate:"omitempty"`
}

type transitionBody struct {
	State   string `json:"state" validate:"required"`
	Comment string `json:"comment" validate:"max=5000"`
}

type commentBody struct {
	Comment string `json:"comment" validate:"max=5000"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var body createBody
	if !s.decode(w, r, &body) {
		return
	}

	created, err := s.service.CreateRequest(r.Context(), primary.CreateRequestRequest{
		Title:       body.Title,
		Description: body.Description,
		Requester:   body.Requester,
		Approver:    body.Approver,
		Type:        body.Type,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) getRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.service.GetRequest(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

func (s *Server) updateRequest(w http.ResponseWriter, r *http.Request) {
	var body updateBody
	if !s.decode(w, r, &body) {
		return
	}

	updated, err := s.service.UpdateRequest(r.Context(), primary.UpdateRequestRequest{
		ID:          chi.URLParam(r, "id"),
		Title:       body.Title,
		Description: body.Description,
		Type:        body.Type,
		Actor:       ctxutil.Actor(r.Context()),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) deleteRequest(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteRequest(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) transitionRequest(w http.ResponseWriter, r *http.Request) {
	var body transitionBody
	if !s.decode(w, r, &body) {
		return
	}

	updated, err := s.service.TransitionRequest(r.Context(), primary.TransitionRequestRequest{
		ID:       chi.URLParam(r, "id"),
		NewState: body.State,
		Actor:    ctxutil.Actor(r.Context()),
		Comment:  body.Comment,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

type shortcutFunc func(ctx context.Context, id, actor, comment string) (*primary.Request, error)

// shortcut adapts one of the fixed-target transition methods. The body is optional.
func (s *Server) shortcut(fn shortcutFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body commentBody
		if r.ContentLength != 0 {
			if !s.decode(w, r, &body) {
				return
			}
		}

		updated, err := fn(r.Context(), chi.URLParam(r, "id"), ctxutil.Actor(r.Context()), body.Comment)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	}
}

type listResponse struct {
	Requests []*primary.Request `json:"requests"`
	Page     int                `json:"page,omitempty"`
	PageSize int                `json:"page_size,omitempty"`
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := primary.RequestFilters{
		State:     q.Get("state"),
		Type:      q.Get("type"),
		Requester: q.Get("requester"),
		Approver:  q.Get("approver"),
	}

	page, pageSize, err := pagination(q.Get("page"), q.Get("page_size"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if page > 0 {
		filters.Limit = pageSize
		filters.Offset = (page - 1) * pageSize
	}

	requests, err := s.service.ListRequests(r.Context(), filters)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*primary.Request{}
	}

	resp := listResponse{Requests: requests}
	if page > 0 {
		resp.Page, resp.PageSize = page, pageSize
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listUserRequests(w http.ResponseWriter, r *http.Request) {
	role := primary.UserRole(r.URL.Query().Get("role"))

	requests, err := s.service.ListRequestsByUser(r.Context(), chi.URLParam(r, "user"), role)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if requests == nil {
		requests = []*primary.Request{}
	}
	writeJSON(w, http.StatusOK, listResponse{Requests: requests})
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.GetStats(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	recent := 0
	if raw := r.URL.Query().Get("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, r, &request.ValidationError{Field: "recent", Reason: "must be a positive integer"})
			return
		}
		recent = n
	}

	dash, err := s.service.GetDashboard(r.Context(), recent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, dash)
}

// pagination parses 1-based page and page_size. page 0 means no paging.
func pagination(rawPage, rawSize string) (page, size int, err error) {
	if rawPage == "" && rawSize == "" {
		return 0, 0, nil
	}

	page, size = 1, DefaultPageSize
	if rawPage != "" {
		if page, err = strconv.Atoi(rawPage); err != nil || page < 1 {
			return 0, 0, &request.ValidationError{Field: "page", Reason: "must be a positive integer"}
		}
	}
	if rawSize != "" {
		if size, err = strconv.Atoi(rawSize); err != nil || size < 1 || size > MaxPageSize {
			return 0, 0, &request.ValidationError{Field: "page_size", Reason: fmt.Sprintf("must be between 1 and %d", MaxPageSize)}
		}
	}
	return page, size, nil
}

// decode reads and validates a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			s.writeError(w, r, &request.ValidationError{Field: fe.Field(), Reason: "failed " + fe.Tag() + " check"})
			return false
		}
		s.writeError(w, r, err)
		return false
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// actorFromHeader stores X-Actor in the request context.
func actorFromHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			r = r.WithContext(ctxutil.WithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records status class and latency per route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		s.metrics.ObserveHTTP(route, status, time.Since(start))
		s.logger.Debug("http request", "method", r.Method, "route", route, "status", status)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
