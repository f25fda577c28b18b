// Package client talks to the rally HTTP API and maps its error responses back
// onto the domain error taxonomy.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

const (
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4 << 10

	idempotencyKeyHeader = "Idempotency-Key"
)

// HTTPClient is a typed client for the coordination API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	logger  logger.Logger
}

// New creates a client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) (*HTTPClient, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrEmptyBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("client")
	}
	return c, nil
}

type respondBody struct {
	UserID string `json:"user_id"`
}

type geoBody struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type venueBody struct {
	Name     string   `json:"name"`
	Category string   `json:"category"`
	Location *geoBody `json:"location,omitempty"`
}

type profileBody struct {
	DisplayName string   `json:"display_name"`
	Interests   []string `json:"interests"`
	Friends     []string `json:"friends"`
	Location    *geoBody `json:"location,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func geo(p *model.GeoPoint) *geoBody {
	if p == nil {
		return nil
	}
	return &geoBody{Lat: p.Lat, Lng: p.Lng}
}

// GetStatus fetches the confirmation snapshot of an action item.
func (c *HTTPClient) GetStatus(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error) {
	var snap model.ConfirmationSnapshot
	err := c.do(ctx, http.MethodGet, "/action-items/"+url.PathEscape(actionItemID), nil, &snap)
	return snap, err
}

// Confirm sends userID's confirmation.
func (c *HTTPClient) Confirm(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	return c.respond(ctx, actionItemID, "confirm", userID)
}

// Decline sends userID's decline.
func (c *HTTPClient) Decline(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	return c.respond(ctx, actionItemID, "decline", userID)
}

// InitiateActionItem re-fetches the snapshot as userID and triggers the
// initial fan-out when userID is the initiator.
func (c *HTTPClient) InitiateActionItem(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error) {
	return c.respond(ctx, actionItemID, "initiate", userID)
}

func (c *HTTPClient) respond(ctx context.Context, actionItemID, verb, userID string) (model.ConfirmationSnapshot, error) {
	var snap model.ConfirmationSnapshot
	path := "/action-items/" + url.PathEscape(actionItemID) + "/" + verb
	err := c.do(ctx, http.MethodPost, path, respondBody{UserID: userID}, &snap)
	return snap, err
}

// ToggleInterest flips userID's interest in venueID. A non-empty key makes the
// call idempotent on the server.
func (c *HTTPClient) ToggleInterest(ctx context.Context, userID, venueID, key string) (types.ToggleResult, error) {
	var res types.ToggleResult
	path := "/users/" + url.PathEscape(userID) + "/interests/" + url.PathEscape(venueID) + "/toggle"
	err := c.do(ctx, http.MethodPost, path, nil, &res, idempotencyKeyHeader, key)
	return res, err
}

// PutVenue creates or replaces a venue.
func (c *HTTPClient) PutVenue(ctx context.Context, v model.Venue) (model.VenueAggregate, error) {
	var agg model.VenueAggregate
	body := venueBody{Name: v.Name, Category: v.Category, Location: geo(v.Location)}
	err := c.do(ctx, http.MethodPut, "/venues/"+url.PathEscape(v.ID), body, &agg)
	return agg, err
}

// GetVenue returns a venue with its interested count.
func (c *HTTPClient) GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error) {
	var agg model.VenueAggregate
	err := c.do(ctx, http.MethodGet, "/venues/"+url.PathEscape(venueID), nil, &agg)
	return agg, err
}

// PutProfile creates or replaces a user profile.
func (c *HTTPClient) PutProfile(ctx context.Context, p model.UserProfile) error {
	body := profileBody{
		DisplayName: p.DisplayName,
		Interests:   nonNil(p.Interests),
		Friends:     nonNil(p.Friends),
		Location:    geo(p.Location),
	}
	return c.do(ctx, http.MethodPut, "/users/"+url.PathEscape(p.ID)+"/profile", body, nil)
}

// GetRecommendations returns up to limit ranked venues for userID. A limit of
// zero uses the server default.
func (c *HTTPClient) GetRecommendations(ctx context.Context, userID string, limit int) ([]types.Recommendation, error) {
	path := "/users/" + url.PathEscape(userID) + "/recommendations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var recs []types.Recommendation
	err := c.do(ctx, http.MethodGet, path, nil, &recs)
	return recs, err
}

// GetStats returns engine statistics.
func (c *HTTPClient) GetStats(ctx context.Context) (types.Stats, error) {
	var stats types.Stats
	err := c.do(ctx, http.MethodGet, "/stats", nil, &stats)
	return stats, err
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// do sends one request. headers are key/value pairs; empty values are skipped.
func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, headers ...string) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		if headers[i+1] != "" {
			req.Header.Set(headers[i], headers[i+1])
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %v: %w", method, path, err, model.ErrUnavailable)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return c.statusError(ctx, method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %v: %w", method, path, err, model.ErrUnavailable)
	}
	return nil
}

func (c *HTTPClient) statusError(ctx context.Context, method, path string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var e errorBody
	if err := json.Unmarshal(raw, &e); err != nil || e.Message == "" {
		e.Message = strings.TrimSpace(string(raw))
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusNotFound:
		kind = model.ErrNotFound
	case resp.StatusCode == http.StatusConflict:
		kind = model.ErrConflict
	case resp.StatusCode == http.StatusPreconditionFailed:
		kind = model.ErrPreconditionFailed
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= http.StatusInternalServerError:
		kind = model.ErrUnavailable
	default:
		kind = model.ErrInvalidArgument
	}

	c.logger.Debug(ctx, "request rejected",
		logger.String("method", method),
		logger.String("path", path),
		logger.Int("status", resp.StatusCode),
		logger.String("code", e.Code),
	)
	return fmt.Errorf("%s %s: %d %s: %w", method, path, resp.StatusCode, e.Message, kind)
}
