// Package simulate drives a running server through concurrent threshold
// crossings and checks the coordination properties end to end.
package simulate

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/internal/domain/types"
	"github.com/okian/rally/pkg/logger"
)

// API is the part of the HTTP client a simulation needs.
type API interface {
	GetStats(ctx context.Context) (types.Stats, error)
	PutVenue(ctx context.Context, v model.Venue) (model.VenueAggregate, error)
	GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error)
	ToggleInterest(ctx context.Context, userID, venueID, key string) (types.ToggleResult, error)
	GetStatus(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error)
	Confirm(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
}

type toggleJob struct {
	venue string
	user  string
}

// venueOutcome collects what the toggles for one venue saw.
type venueOutcome struct {
	mu       sync.Mutex
	triggers int
	items    map[string]struct{}
	failed   int
}

// Run executes the simulation against api.
func Run(ctx context.Context, api API, cfg Config) (Stats, error) {
	cfg = cfg.withDefaults()
	log := logger.Get().Named("simulate")
	start := time.Now()
	var stats Stats

	log.Info(ctx, "starting simulation",
		logger.Int("venues", cfg.Venues),
		logger.Int("users_per_venue", cfg.UsersPerVenue),
		logger.Int("threshold", cfg.Threshold),
		logger.Int("quorum", cfg.Quorum),
		logger.Int("workers", cfg.Workers),
		logger.String("prefix", cfg.Prefix),
	)

	if _, err := api.GetStats(ctx); err != nil {
		return stats, fmt.Errorf("server health check: %w", err)
	}

	venues := make([]string, cfg.Venues)
	for i := range venues {
		venues[i] = cfg.Prefix + "-venue-" + strconv.Itoa(i)
		v := model.Venue{ID: venues[i], Name: "Venue " + strconv.Itoa(i), Category: "simulation"}
		if _, err := api.PutVenue(ctx, v); err != nil {
			return stats, fmt.Errorf("seed venue %s: %w", v.ID, err)
		}
	}

	outcomes := submitToggles(ctx, api, cfg, venues)
	stats.TogglesSubmitted = cfg.Venues * cfg.UsersPerVenue

	items := make(map[string]string, len(venues))
	for _, venue := range venues {
		out := outcomes[venue]
		stats.TogglesFailed += out.failed
		stats.Triggers += out.triggers
		if err := verifyVenue(ctx, api, cfg, venue, out); err != nil {
			return stats, err
		}
		for id := range out.items {
			items[venue] = id
		}
	}
	stats.ActionItems = len(items)

	if err := verifyReplay(ctx, api, cfg); err != nil {
		return stats, err
	}

	if cfg.Confirm {
		confirmed, formed, err := confirmAll(ctx, api, cfg, items)
		stats.Confirmations, stats.GroupsFormed = confirmed, formed
		if err != nil {
			return stats, err
		}
	}

	stats.Duration = time.Since(start)
	log.Info(ctx, "simulation passed",
		logger.Int("toggles", stats.TogglesSubmitted),
		logger.Int("failed", stats.TogglesFailed),
		logger.Int("triggers", stats.Triggers),
		logger.Int("action_items", stats.ActionItems),
		logger.Int("confirmations", stats.Confirmations),
		logger.Int("groups_formed", stats.GroupsFormed),
		logger.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// submitToggles has every user toggle interest once, all venues at once.
func submitToggles(ctx context.Context, api API, cfg Config, venues []string) map[string]*venueOutcome {
	outcomes := make(map[string]*venueOutcome, len(venues))
	for _, v := range venues {
		outcomes[v] = &venueOutcome{items: make(map[string]struct{})}
	}

	jobs := make(chan toggleJob, cfg.Workers*workerMultiplier)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				res, err := api.ToggleInterest(ctx, job.user, job.venue, uuid.NewString())
				out := outcomes[job.venue]
				out.mu.Lock()
				switch {
				case err != nil:
					out.failed++
				default:
					if res.ActionItemTriggered {
						out.triggers++
					}
					if res.ActionItem != nil {
						out.items[res.ActionItem.ID] = struct{}{}
					}
				}
				out.mu.Unlock()
			}
		}()
	}

	go func() {
		defer close(jobs)
		for u := 0; u < cfg.UsersPerVenue; u++ {
			for _, v := range venues {
				select {
				case <-ctx.Done():
					return
				case jobs <- toggleJob{venue: v, user: cfg.Prefix + "-user-" + strconv.Itoa(u)}:
				}
			}
		}
	}()

	wg.Wait()
	return outcomes
}

// verifyVenue checks the count has not drifted and that the crossing claimed
// exactly one episode.
func verifyVenue(ctx context.Context, api API, cfg Config, venue string, out *venueOutcome) error {
	if out.failed > 0 {
		return fmt.Errorf("venue %s: %d toggles failed: %w", venue, out.failed, ErrVerification)
	}
	agg, err := api.GetVenue(ctx, venue)
	if err != nil {
		return fmt.Errorf("venue %s: %w", venue, err)
	}
	if agg.InterestedCount != cfg.UsersPerVenue {
		return fmt.Errorf("venue %s: interested count %d, want %d: %w",
			venue, agg.InterestedCount, cfg.UsersPerVenue, ErrVerification)
	}

	want := 0
	if cfg.UsersPerVenue >= cfg.Threshold {
		want = 1
	}
	if out.triggers != want {
		return fmt.Errorf("venue %s: %d triggers, want %d: %w", venue, out.triggers, want, ErrVerification)
	}
	if len(out.items) != want {
		return fmt.Errorf("venue %s: toggles saw %d action items, want %d: %w", venue, len(out.items), want, ErrVerification)
	}
	return nil
}

// verifyReplay repeats a toggle with the same key on a venue of its own and
// expects no second flip.
func verifyReplay(ctx context.Context, api API, cfg Config) error {
	venue := cfg.Prefix + "-replay"
	if _, err := api.PutVenue(ctx, model.Venue{ID: venue, Name: "Replay", Category: "simulation"}); err != nil {
		return fmt.Errorf("seed venue %s: %w", venue, err)
	}
	user := cfg.Prefix + "-replay-user"
	key := uuid.NewString()
	first, err := api.ToggleInterest(ctx, user, venue, key)
	if err != nil {
		return fmt.Errorf("replay toggle: %w", err)
	}
	second, err := api.ToggleInterest(ctx, user, venue, key)
	if err != nil {
		return fmt.Errorf("replay toggle: %w", err)
	}
	if !first.Interested || !second.Interested || second.InterestedCount != 1 {
		return fmt.Errorf("replayed toggle changed state (%v/%d then %v/%d): %w",
			first.Interested, first.InterestedCount, second.Interested, second.InterestedCount, ErrVerification)
	}
	return nil
}

// confirmAll has every pending member of each item confirm concurrently and
// checks items that can reach quorum end up formed with a chat.
func confirmAll(ctx context.Context, api API, cfg Config, items map[string]string) (int, int, error) {
	venues := make([]string, 0, len(items))
	for v := range items {
		venues = append(venues, v)
	}
	sort.Strings(venues)

	var confirmed atomic.Int64
	formed := 0
	for _, venue := range venues {
		id := items[venue]
		snap, err := api.GetStatus(ctx, id)
		if err != nil {
			return int(confirmed.Load()), formed, fmt.Errorf("status of %s: %w", id, err)
		}

		var (
			wg       sync.WaitGroup
			failures atomic.Int64
		)
		for _, row := range snap.Confirmations {
			if row.Status != model.ResponsePending {
				continue
			}
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				if _, err := api.Confirm(ctx, id, user); err != nil {
					failures.Add(1)
					return
				}
				confirmed.Add(1)
			}(row.UserID)
		}
		wg.Wait()
		if n := failures.Load(); n > 0 {
			return int(confirmed.Load()), formed, fmt.Errorf("action item %s: %d confirmations failed: %w", id, n, ErrVerification)
		}

		final, err := api.GetStatus(ctx, id)
		if err != nil {
			return int(confirmed.Load()), formed, fmt.Errorf("status of %s: %w", id, err)
		}
		if len(final.Confirmations)+1 < cfg.Quorum {
			continue
		}
		if final.Status != model.StatusFormed || final.ChatID == "" {
			return int(confirmed.Load()), formed, fmt.Errorf("action item %s: status %s chat %q after full confirmation: %w",
				id, final.Status, final.ChatID, ErrVerification)
		}
		formed++
	}
	return int(confirmed.Load()), formed, nil
}
