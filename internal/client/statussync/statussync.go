// Package statussync keeps a local view of action items in step with the
// server. It polls while a view is visible and layers the user's in-flight
// answer on top of the last server snapshot. The server stays authoritative:
// nothing here infers state.
package statussync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/singleflight"

	"github.com/okian/rally/internal/domain/model"
	"github.com/okian/rally/pkg/logger"
	"github.com/okian/rally/pkg/metrics"
)

const (
	defaultInterval     = 5 * time.Second
	defaultFetchTimeout = 10 * time.Second

	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 5 * time.Second
	defaultRetryElapsed = 30 * time.Second
)

// Fetcher is the server side of the synchronizer. *client.HTTPClient
// satisfies it.
type Fetcher interface {
	GetStatus(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error)
	Confirm(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
	Decline(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)
}

// Overlay is an answer the user sent that the server has not acknowledged yet.
type Overlay struct {
	Seq      uint64
	Response model.ResponseStatus
}

// View is what a screen renders for one action item.
type View struct {
	ActionItemID string
	UserID       string
	// Server is the last snapshot the server returned. Zero until Synced.
	Server  model.ConfirmationSnapshot
	Synced  bool
	Pending *Overlay
	// Err is the outcome of the last exchange with the server.
	Err      error
	Watchers int
}

// Effective returns the server snapshot with the pending answer applied to the
// user's row. A row the server already shows as answered is left alone.
func (v View) Effective() model.ConfirmationSnapshot {
	snap := v.Server
	snap.Confirmations = append([]model.MemberStatus(nil), v.Server.Confirmations...)
	if v.Pending == nil {
		return snap
	}
	for i := range snap.Confirmations {
		row := &snap.Confirmations[i]
		if row.UserID == v.UserID && row.Status == model.ResponsePending {
			row.Status = v.Pending.Response
		}
	}
	return snap
}

// MemberStatus reports the user's effective answer and whether the user has a
// row at all. The initiator has no row.
func (v View) MemberStatus() (model.ResponseStatus, bool) {
	for _, row := range v.Effective().Confirmations {
		if row.UserID == v.UserID {
			return row.Status, true
		}
	}
	return "", false
}

type item struct {
	views   map[string]struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	server  model.ConfirmationSnapshot
	synced  bool
	overlay *Overlay
	err     error
}

func (it *item) view(actionItemID, userID string) View {
	v := View{
		ActionItemID: actionItemID,
		UserID:       userID,
		Server:       it.server,
		Synced:       it.synced,
		Err:          it.err,
		Watchers:     len(it.views),
	}
	if it.overlay != nil {
		ov := *it.overlay
		v.Pending = &ov
	}
	return v
}

// applyServer stores snap unless an equal or newer version is already held.
func (it *item) applyServer(snap model.ConfirmationSnapshot) bool {
	if it.synced && snap.Version < it.server.Version {
		return false
	}
	it.server, it.synced, it.err = snap, true, nil
	return true
}

func (it *item) idle() bool {
	return len(it.views) == 0 && it.cancel == nil && it.overlay == nil
}

// Synchronizer reconciles local views of action items for one user.
type Synchronizer struct {
	fetcher      Fetcher
	userID       string
	interval     time.Duration
	fetchTimeout time.Duration
	newBackOff   func() backoff.BackOff
	onUpdate     func(View)
	logger       logger.Logger
	group        singleflight.Group

	mu     sync.Mutex
	items  map[string]*item
	seq    uint64
	closed bool
}

// New creates a synchronizer acting as userID.
func New(fetcher Fetcher, userID string, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		fetcher:      fetcher,
		userID:       userID,
		interval:     defaultInterval,
		fetchTimeout: defaultFetchTimeout,
		newBackOff:   defaultBackOff,
		items:        make(map[string]*item),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("statussync")
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = defaultRetryInitial
	b.MaxInterval = defaultRetryMax
	b.MaxElapsedTime = defaultRetryElapsed
	return b
}

// Watch registers viewID as showing actionItemID. The first view starts a poll
// loop that fetches immediately and then every interval. The loop outlives
// ctx; it ends when the last view calls Unwatch or on Close.
func (s *Synchronizer) Watch(ctx context.Context, actionItemID, viewID string) error {
	if actionItemID == "" || viewID == "" {
		return ErrEmptyID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	it := s.itemLocked(actionItemID)
	it.views[viewID] = struct{}{}
	if it.cancel != nil {
		return nil
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	it.cancel, it.done = cancel, done
	go s.poll(loopCtx, actionItemID, done)

	s.logger.Debug(ctx, "polling started",
		logger.String("action_item", actionItemID),
		logger.Duration("interval", s.interval),
	)
	return nil
}

// Unwatch removes viewID. When it was the last view the poll loop is stopped
// and Unwatch waits for it to exit.
func (s *Synchronizer) Unwatch(actionItemID, viewID string) {
	s.mu.Lock()
	it, ok := s.items[actionItemID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(it.views, viewID)
	if len(it.views) > 0 || it.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel, done := it.cancel, it.done
	it.cancel, it.done = nil, nil
	if it.idle() {
		delete(s.items, actionItemID)
	}
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Debug(context.Background(), "polling stopped", logger.String("action_item", actionItemID))
}

// State returns the current view of actionItemID.
func (s *Synchronizer) State(actionItemID string) (View, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[actionItemID]
	if !ok {
		return View{}, false
	}
	return it.view(actionItemID, s.userID), true
}

// Refresh fetches actionItemID now, retrying while the server is unavailable.
func (s *Synchronizer) Refresh(ctx context.Context, actionItemID string) (View, error) {
	if actionItemID == "" {
		return View{}, ErrEmptyID
	}
	return s.sync(ctx, actionItemID, true)
}

// Confirm sends the user's confirmation with an optimistic overlay.
func (s *Synchronizer) Confirm(ctx context.Context, actionItemID string) (View, error) {
	return s.respond(ctx, actionItemID, model.ResponseConfirmed, s.fetcher.Confirm)
}

// Decline sends the user's decline with an optimistic overlay.
func (s *Synchronizer) Decline(ctx context.Context, actionItemID string) (View, error) {
	return s.respond(ctx, actionItemID, model.ResponseDeclined, s.fetcher.Decline)
}

// Close stops every poll loop. Requests already sent run to completion.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	var dones []chan struct{}
	for _, it := range s.items {
		if it.cancel != nil {
			it.cancel()
			dones = append(dones, it.done)
			it.cancel, it.done = nil, nil
		}
		it.views = make(map[string]struct{})
	}
	s.mu.Unlock()

	for _, done := range dones {
		<-done
	}
}

type call func(ctx context.Context, actionItemID, userID string) (model.ConfirmationSnapshot, error)

// respond overlays resp, sends it and reconciles with the answer. The overlay
// is cleared only by the completion of the request that set it; a newer
// answer sent meanwhile keeps its own overlay.
func (s *Synchronizer) respond(ctx context.Context, actionItemID string, resp model.ResponseStatus, send call) (View, error) {
	if actionItemID == "" {
		return View{}, ErrEmptyID
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return View{}, ErrClosed
	}
	s.seq++
	ov := Overlay{Seq: s.seq, Response: resp}
	it := s.itemLocked(actionItemID)
	it.overlay = &ov
	view := it.view(actionItemID, s.userID)
	s.mu.Unlock()
	s.emit(view)

	var snap model.ConfirmationSnapshot
	err := s.retry(ctx, func() error {
		var err error
		snap, err = send(ctx, actionItemID, s.userID)
		return err
	})

	view, _ = s.update(actionItemID, true, func(it *item) bool {
		if err == nil {
			it.applyServer(snap)
		} else {
			it.err = err
		}
		if it.overlay != nil && it.overlay.Seq == ov.Seq {
			it.overlay = nil
		}
		return true
	})
	s.forgetIdle(actionItemID)

	if err != nil {
		s.logger.Warn(ctx, "answer rejected, overlay rolled back",
			logger.String("action_item", actionItemID),
			logger.String("response", string(resp)),
			logger.Error(err),
		)
		return view, err
	}
	return view, nil
}

func (s *Synchronizer) poll(ctx context.Context, actionItemID string, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(0)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if _, err := s.sync(ctx, actionItemID, false); err != nil && ctx.Err() == nil {
			s.logger.Warn(ctx, "status poll failed",
				logger.String("action_item", actionItemID),
				logger.Error(err),
			)
		}
		timer.Reset(s.interval)
	}
}

// sync fetches and applies one snapshot. With create unset, a result for an
// item nobody tracks any more is dropped.
func (s *Synchronizer) sync(ctx context.Context, actionItemID string, create bool) (View, error) {
	var snap model.ConfirmationSnapshot
	err := s.retry(ctx, func() error {
		var err error
		snap, err = s.fetch(ctx, actionItemID)
		return err
	})
	if err != nil {
		view, _ := s.update(actionItemID, create, func(it *item) bool {
			it.err = err
			return true
		})
		return view, err
	}
	view, _ := s.update(actionItemID, create, func(it *item) bool {
		return it.applyServer(snap)
	})
	return view, nil
}

// fetch coalesces concurrent requests for the same item into one call. The
// shared request is bounded by fetchTimeout alone, so a caller that gives up
// stops waiting without failing the others.
func (s *Synchronizer) fetch(ctx context.Context, actionItemID string) (model.ConfirmationSnapshot, error) {
	ch := s.group.DoChan(actionItemID, func() (any, error) {
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()

		snap, err := s.fetcher.GetStatus(fetchCtx, actionItemID)
		switch {
		case err == nil:
			metrics.RecordStatusPoll("ok")
		case errors.Is(err, model.ErrNotFound):
			metrics.RecordStatusPoll("gone")
		default:
			metrics.RecordStatusPoll("error")
		}
		return snap, err
	})

	select {
	case <-ctx.Done():
		return model.ConfirmationSnapshot{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.ConfirmationSnapshot{}, res.Err
		}
		return res.Val.(model.ConfirmationSnapshot), nil
	}
}

// retry runs op until it succeeds, fails with anything but ErrUnavailable, or
// the backoff gives up.
func (s *Synchronizer) retry(ctx context.Context, op func() error) error {
	b := backoff.WithContext(s.newBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := op()
		if err == nil || errors.Is(err, model.ErrUnavailable) {
			return err
		}
		return backoff.Permanent(err)
	}, b, func(err error, wait time.Duration) {
		s.logger.Debug(ctx, "server unavailable, retrying",
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	})
}

func (s *Synchronizer) update(actionItemID string, create bool, fn func(*item) bool) (View, bool) {
	s.mu.Lock()
	it, ok := s.items[actionItemID]
	if !ok {
		if !create || s.closed {
			s.mu.Unlock()
			return View{ActionItemID: actionItemID, UserID: s.userID}, false
		}
		it = s.itemLocked(actionItemID)
	}
	changed := fn(it)
	view := it.view(actionItemID, s.userID)
	s.mu.Unlock()

	if changed {
		s.emit(view)
	}
	return view, true
}

// forgetIdle drops actionItemID once no view shows it and no answer is in flight.
func (s *Synchronizer) forgetIdle(actionItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it, ok := s.items[actionItemID]; ok && it.idle() {
		delete(s.items, actionItemID)
	}
}

func (s *Synchronizer) itemLocked(actionItemID string) *item {
	it, ok := s.items[actionItemID]
	if !ok {
		it = &item{views: make(map[string]struct{})}
		s.items[actionItemID] = it
	}
	return it
}

func (s *Synchronizer) emit(v View) {
	if s.onUpdate != nil {
		s.onUpdate(v)
	}
}
