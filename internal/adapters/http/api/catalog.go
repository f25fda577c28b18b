package api

import (
	"net/http"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
)

type geoRequest struct {
	Lat float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" validate:"gte=-180,lte=180"`
}

func (g *geoRequest) point() *model.GeoPoint {
	if g == nil {
		return nil
	}
	return &model.GeoPoint{Lat: g.Lat, Lng: g.Lng}
}

type venueRequest struct {
	Name     string      `json:"name" validate:"required,max=200"`
	Category string      `json:"category" validate:"required,max=100"`
	Location *geoRequest `json:"location,omitempty" validate:"omitempty"`
}

type profileRequest struct {
	DisplayName string      `json:"display_name" validate:"max=200"`
	Interests   []string    `json:"interests" validate:"max=50,dive,required,max=100"`
	Friends     []string    `json:"friends" validate:"max=1000,dive,required,max=128"`
	Location    *geoRequest `json:"location,omitempty" validate:"omitempty"`
}

// CatalogHandler seeds the venue and profile read model.
type CatalogHandler struct {
	deps   CatalogDependencies
	logger logger.Logger
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(deps CatalogDependencies, log logger.Logger) *CatalogHandler {
	return &CatalogHandler{deps: deps, logger: log}
}

// HandlePutVenue handles PUT /venues/{venueID}.
func (h *CatalogHandler) HandlePutVenue(w http.ResponseWriter, r *http.Request) {
	var req venueRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	v := model.Venue{
		ID:       pathParam(r, "venueID"),
		Name:     req.Name,
		Category: req.Category,
		Location: req.Location.point(),
	}
	if err := h.deps.UpsertVenue(r.Context(), v); err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	agg, err := h.deps.GetVenue(r.Context(), v.ID)
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// HandleGetVenue handles GET /venues/{venueID}.
func (h *CatalogHandler) HandleGetVenue(w http.ResponseWriter, r *http.Request) {
	agg, err := h.deps.GetVenue(r.Context(), pathParam(r, "venueID"))
	if err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

// HandlePutProfile handles PUT /users/{userID}/profile.
func (h *CatalogHandler) HandlePutProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p := model.UserProfile{
		ID:          pathParam(r, "userID"),
		DisplayName: req.DisplayName,
		Interests:   req.Interests,
		Friends:     req.Friends,
		Location:    req.Location.point(),
	}
	if err := h.deps.UpsertProfile(r.Context(), p); err != nil {
		writeDomainError(r.Context(), h.logger, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
