// Package api exposes the coordination engine over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

const maxBodyBytes = 1 << 20

// CoordinationDependencies covers the interest toggle and the action item lifecycle.
type CoordinationDependencies interface {
	ToggleInterestOnce(ctx context.Context, key, userID, venueID string) (types.ToggleResult, error)
	InitiateActionItem(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
	Confirm(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
	Decline(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
	GetStatus(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error)
}

// CatalogDependencies covers the venue and profile seeding surface.
type CatalogDependencies interface {
	UpsertVenue(ctx context.Context, v model.Venue) error
	GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error)
	UpsertProfile(ctx context.Context, p model.UserProfile) error
}

// RecommendationDependencies covers the ranked venue feed.
type RecommendationDependencies interface {
	GetRecommendations(ctx context.Context, userID string, limit int) ([]types.Recommendation, error)
}

// Dependencies bundles everything the handlers need.
type Dependencies interface {
	CoordinationDependencies
	CatalogDependencies
	RecommendationDependencies
	StatsProvider
}

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler          *HealthHandler
	statsHandler           *StatsHandler
	interestHandler        *InterestHandler
	actionItemHandler      *ActionItemHandler
	catalogHandler         *CatalogHandler
	recommendationsHandler *RecommendationsHandler

	rateLimitPerMinute int
	logger             logger.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimit limits each client IP to n requests per minute. Zero disables it.
func WithRateLimit(n int) Option {
	return func(s *Server) {
		if n >= 0 {
			s.rateLimitPerMinute = n
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("http")
	}
	s.healthHandler = NewHealthHandler()
	s.statsHandler = NewStatsHandler(deps, s.logger)
	s.interestHandler = NewInterestHandler(deps, s.logger)
	s.actionItemHandler = NewActionItemHandler(deps, s.logger)
	s.catalogHandler = NewCatalogHandler(deps, s.logger)
	s.recommendationsHandler = NewRecommendationsHandler(deps, s.logger)
	return s
}

// Register attaches all HTTP routes to r.
func (s *Server) Register(_ context.Context, r chi.Router) {
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	if s.rateLimitPerMinute > 0 {
		r.Use(httprate.Limit(s.rateLimitPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
				writeError(w, http.StatusTooManyRequests, "rate_limited", ErrRateLimited)
			}),
		))
	}
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/venues/{venueID}", func(r chi.Router) {
		r.Get("/", s.catalogHandler.HandleGetVenue)
		r.Put("/", s.catalogHandler.HandlePutVenue)
	})

	r.Route("/users/{userID}", func(r chi.Router) {
		r.Put("/profile", s.catalogHandler.HandlePutProfile)
		r.Post("/interests/{venueID}/toggle", s.interestHandler.HandleToggle)
		r.Get("/recommendations", s.recommendationsHandler.HandleGetRecommendations)
	})

	r.Route("/action-items/{actionItemID}", func(r chi.Router) {
		r.Get("/", s.actionItemHandler.HandleGetStatus)
		r.Post("/initiate", s.actionItemHandler.HandleInitiate)
		r.Post("/confirm", s.actionItemHandler.HandleConfirm)
		r.Post("/decline", s.actionItemHandler.HandleDecline)
	})
}

// Handler builds a router with every route registered.
func (s *Server) Handler(ctx context.Context) chi.Router {
	r := chi.NewRouter()
	s.Register(ctx, r)
	return r
}

var validate = validator.New() //nolint:gochecknoglobals // validator caches struct metadata

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeDomainError maps the engine's error taxonomy to HTTP statuses.
func writeDomainError(ctx context.Context, log logger.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidArgument), errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "bad_request", err)
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err)
	case errors.Is(err, model.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, model.ErrPreconditionFailed):
		writeError(w, http.StatusPreconditionFailed, "precondition_failed", err)
	case errors.Is(err, model.ErrUnavailable):
		log.Warn(ctx, "dependency unavailable", logger.Error(err))
		writeError(w, http.StatusServiceUnavailable, "unavailable", err)
	default:
		log.Error(ctx, "request failed", logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal_error", err)
	}
}

// decodeBody reads a JSON body into dst and validates it.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", ErrBadRequest, err)
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fmt.Errorf("%w: %s", ErrBadRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}

// pathParam returns a trimmed URL parameter.
func pathParam(r *http.Request, name string) string {
	return strings.TrimSpace(chi.URLParam(r, name))
}
