package repository

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/okian/rally/internal/domain/model"
)

// MemoryStore is an in-process Store. Every write runs under one lock, which
// makes toggles, claims and action item updates single atomic steps.
type MemoryStore struct {
	mu sync.RWMutex

	venues   map[string]model.Venue
	profiles map[string]model.UserProfile
	// interests[venueID][userID] = created at
	interests map[string]map[string]time.Time

	items    map[string]*model.ActionItem
	episodes map[string]string // venueID -> active action item ID

	stop      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(ctx context.Context, opts ...Option) *MemoryStore {
	o := newStoreOptions(opts)
	s := &MemoryStore{
		venues:    make(map[string]model.Venue),
		profiles:  make(map[string]model.UserProfile),
		interests: make(map[string]map[string]time.Time),
		items:     make(map[string]*model.ActionItem),
		episodes:  make(map[string]string),
		stop:      make(chan struct{}),
	}
	startMetricsUpdater(ctx, s, o, s.stop)
	return s
}

// Close stops the background updater.
func (s *MemoryStore) Close() error {
	s.closeOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *MemoryStore) ToggleInterest(_ context.Context, userID, venueID string, now time.Time) (model.InterestChange, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.interests[venueID]
	if !ok {
		set = make(map[string]time.Time)
		s.interests[venueID] = set
	}
	_, was := set[userID]
	if was {
		delete(set, userID)
	} else {
		set[userID] = now
	}
	return model.InterestChange{
		Interested: !was,
		Count:      len(set),
		Members:    s.membersLocked(venueID),
	}, nil
}

// membersLocked returns the interested users of venueID ordered by interest time.
func (s *MemoryStore) membersLocked(venueID string) []string {
	set := s.interests[venueID]
	out := make([]string, 0, len(set))
	for u := range set {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := set[out[i]], set[out[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return out[i] < out[j]
	})
	return out
}

func (s *MemoryStore) InterestedUsers(_ context.Context, venueID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.membersLocked(venueID), nil
}

func (s *MemoryStore) InterestsOf(_ context.Context, userIDs []string) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string][]string)
	for venueID, set := range s.interests {
		for _, u := range userIDs {
			if _, ok := set[u]; ok {
				out[venueID] = append(out[venueID], u)
			}
		}
	}
	return out, nil
}

func (s *MemoryStore) UpsertVenue(_ context.Context, v model.Venue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.venues[v.ID] = v
	return nil
}

func (s *MemoryStore) GetVenue(_ context.Context, venueID string) (model.VenueAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.venues[venueID]
	if !ok {
		return model.VenueAggregate{}, fmt.Errorf("venue %s: %w", venueID, model.ErrNotFound)
	}
	return model.VenueAggregate{Venue: v, InterestedCount: len(s.interests[venueID])}, nil
}

func (s *MemoryStore) ListVenues(_ context.Context) ([]model.VenueAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.VenueAggregate, 0, len(s.venues))
	for id, v := range s.venues {
		out = append(out, model.VenueAggregate{Venue: v, InterestedCount: len(s.interests[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertProfile(_ context.Context, p model.UserProfile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Interests = slices.Clone(p.Interests)
	p.Friends = slices.Clone(p.Friends)
	s.profiles[p.ID] = p
	return nil
}

func (s *MemoryStore) GetProfile(_ context.Context, userID string) (model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[userID]
	if !ok {
		return model.UserProfile{}, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	return p, nil
}

func (s *MemoryStore) GetProfiles(_ context.Context, ids []string) ([]model.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.UserProfile, 0, len(ids))
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ClaimEpisode(_ context.Context, req ClaimRequest) (*model.ActionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.episodes[req.VenueID]; ok {
		return nil, fmt.Errorf("venue %s has active action item %s: %w", req.VenueID, id, model.ErrConflict)
	}
	members := s.membersLocked(req.VenueID)
	if err := checkClaim(req, members); err != nil {
		return nil, err
	}
	item := model.NewActionItem(req.ID, req.VenueID, req.InitiatorID, members, req.Now)
	s.items[item.ID] = item
	s.episodes[req.VenueID] = item.ID
	return item.Clone(), nil
}

func (s *MemoryStore) ActiveEpisode(_ context.Context, venueID string) (*model.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.episodes[venueID]
	if !ok {
		return nil, fmt.Errorf("active episode for venue %s: %w", venueID, model.ErrNotFound)
	}
	return s.items[id].Clone(), nil
}

func (s *MemoryStore) GetActionItem(_ context.Context, id string) (*model.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("action item %s: %w", id, model.ErrNotFound)
	}
	return item.Clone(), nil
}

func (s *MemoryStore) UpdateActionItem(_ context.Context, id string, fn Mutation) (*model.ActionItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("action item %s: %w", id, model.ErrNotFound)
	}
	next := current.Clone()
	changed, err := fn(next)
	if err != nil {
		return current.Clone(), err
	}
	if !changed {
		return current.Clone(), nil
	}
	s.items[id] = next
	if next.Status != model.StatusActive && s.episodes[next.VenueID] == id {
		delete(s.episodes, next.VenueID)
	}
	return next.Clone(), nil
}

func (s *MemoryStore) ListActionItems(_ context.Context, status model.ActionItemStatus) ([]*model.ActionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.ActionItem, 0)
	for _, item := range s.items {
		if item.Status == status {
			out = append(out, item.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// checkClaim validates the interest set read inside the claim step.
func checkClaim(req ClaimRequest, members []string) error {
	if len(members) < req.Threshold {
		return fmt.Errorf("venue %s has %d interested, below %d: %w",
			req.VenueID, len(members), req.Threshold, model.ErrPreconditionFailed)
	}
	if !slices.Contains(members, req.InitiatorID) {
		return fmt.Errorf("initiator %s no longer interested in %s: %w",
			req.InitiatorID, req.VenueID, model.ErrPreconditionFailed)
	}
	return nil
}
