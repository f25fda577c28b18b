package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"modernc.org/sqlite"

	"github.com/okian/rally/internal/domain/model"
)

const (
	sqliteConstraint           = 19
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// SQLiteStore is a durable Store on a single serialized SQLite connection.
// Every write is one transaction; the UNIQUE episode_key column enforces one
// active action item per venue.
type SQLiteStore struct {
	db        *sql.DB
	stop      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*SQLiteStore)(nil)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// OpenSQLite opens (and migrates) the database at path.
func OpenSQLite(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	o := newStoreOptions(opts)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, unavailable(err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", o.busyTimeout.Milliseconds()),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, unavailable(err)
		}
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}
	if err := migrateSQLite(ctx, db); err != nil {
		_ = db.Close()
		return nil, unavailable(err)
	}

	s := &SQLiteStore{db: db, stop: make(chan struct{})}
	startMetricsUpdater(ctx, s, o, s.stop)
	return s, nil
}

// migrateSQLite adds columns introduced after a database was created.
func migrateSQLite(ctx context.Context, db *sql.DB) error {
	columns, err := tableColumns(ctx, db, "action_items")
	if err != nil {
		return err
	}
	if !columns["chat_attempt_at"] {
		if _, err := db.ExecContext(ctx, "ALTER TABLE action_items ADD COLUMN chat_attempt_at INTEGER"); err != nil {
			return err
		}
	}
	return nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns := make(map[string]bool)
	for rows.Next() {
		var (
			cid, notNull, pk int
			name, colType    string
			defaultValue     sql.NullString
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultValue, &pk); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// Close stops the background updater and closes the database.
func (s *SQLiteStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *SQLiteStore) ToggleInterest(ctx context.Context, userID, venueID string, now time.Time) (model.InterestChange, error) {
	var change model.InterestChange
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM interests WHERE user_id = ? AND venue_id = ?`, userID, venueID)
		if err != nil {
			return unavailable(err)
		}
		removed, err := res.RowsAffected()
		if err != nil {
			return unavailable(err)
		}
		if removed == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO interests (user_id, venue_id, created_at) VALUES (?, ?, ?)`,
				userID, venueID, now.UnixNano()); err != nil {
				return dbError(err)
			}
		}
		members, err := interestedUsers(ctx, tx, venueID)
		if err != nil {
			return err
		}
		change = model.InterestChange{Interested: removed == 0, Count: len(members), Members: members}
		return nil
	})
	return change, err
}

func interestedUsers(ctx context.Context, q querier, venueID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT user_id FROM interests WHERE venue_id = ? ORDER BY created_at, user_id`, venueID)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, unavailable(err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SQLiteStore) InterestedUsers(ctx context.Context, venueID string) ([]string, error) {
	return interestedUsers(ctx, s.db, venueID)
}

func (s *SQLiteStore) InterestsOf(ctx context.Context, userIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(userIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(userIDs))
	for i, u := range userIDs {
		args[i] = u
	}
	query := `SELECT venue_id, user_id FROM interests WHERE user_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(userIDs)), ",") + `) ORDER BY venue_id, created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		var venueID, userID string
		if err := rows.Scan(&venueID, &userID); err != nil {
			return nil, unavailable(err)
		}
		out[venueID] = append(out[venueID], userID)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertVenue(ctx context.Context, v model.Venue) error {
	lat, lng := geoArgs(v.Location)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO venues (id, name, category, lat, lng) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  name = excluded.name, category = excluded.category, lat = excluded.lat, lng = excluded.lng
	`, v.ID, v.Name, v.Category, lat, lng)
	if err != nil {
		return dbError(err)
	}
	return nil
}

const venueSelect = `
	SELECT v.id, v.name, v.category, v.lat, v.lng,
	       (SELECT COUNT(*) FROM interests i WHERE i.venue_id = v.id)
	FROM venues v`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVenue(r rowScanner) (model.VenueAggregate, error) {
	var (
		agg      model.VenueAggregate
		lat, lng sql.NullFloat64
	)
	if err := r.Scan(&agg.ID, &agg.Name, &agg.Category, &lat, &lng, &agg.InterestedCount); err != nil {
		return agg, err
	}
	agg.Location = geoFrom(lat, lng)
	return agg, nil
}

func (s *SQLiteStore) GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error) {
	agg, err := scanVenue(s.db.QueryRowContext(ctx, venueSelect+` WHERE v.id = ?`, venueID))
	if errors.Is(err, sql.ErrNoRows) {
		return agg, fmt.Errorf("venue %s: %w", venueID, model.ErrNotFound)
	}
	if err != nil {
		return agg, unavailable(err)
	}
	return agg, nil
}

func (s *SQLiteStore) ListVenues(ctx context.Context) ([]model.VenueAggregate, error) {
	rows, err := s.db.QueryContext(ctx, venueSelect+` ORDER BY v.id`)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	out := make([]model.VenueAggregate, 0)
	for rows.Next() {
		agg, err := scanVenue(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p model.UserProfile) error {
	interests, err := json.Marshal(nonNil(p.Interests))
	if err != nil {
		return err
	}
	friends, err := json.Marshal(nonNil(p.Friends))
	if err != nil {
		return err
	}
	lat, lng := geoArgs(p.Location)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, display_name, interests, friends, lat, lng) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  display_name = excluded.display_name, interests = excluded.interests,
		  friends = excluded.friends, lat = excluded.lat, lng = excluded.lng
	`, p.ID, p.DisplayName, string(interests), string(friends), lat, lng)
	if err != nil {
		return dbError(err)
	}
	return nil
}

func scanProfile(r rowScanner) (model.UserProfile, error) {
	var (
		p                  model.UserProfile
		interests, friends string
		lat, lng           sql.NullFloat64
	)
	if err := r.Scan(&p.ID, &p.DisplayName, &interests, &friends, &lat, &lng); err != nil {
		return p, err
	}
	if err := json.Unmarshal([]byte(interests), &p.Interests); err != nil {
		return p, fmt.Errorf("profile %s interests: %w", p.ID, err)
	}
	if err := json.Unmarshal([]byte(friends), &p.Friends); err != nil {
		return p, fmt.Errorf("profile %s friends: %w", p.ID, err)
	}
	p.Location = geoFrom(lat, lng)
	return p, nil
}

const profileSelect = `SELECT id, display_name, interests, friends, lat, lng FROM profiles`

func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx, profileSelect+` WHERE id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return p, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return p, unavailable(err)
	}
	return p, nil
}

func (s *SQLiteStore) GetProfiles(ctx context.Context, ids []string) ([]model.UserProfile, error) {
	out := make([]model.UserProfile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, profileSelect+` WHERE id IN (`+
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")+`) ORDER BY id`, args...)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, unavailable(err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *SQLiteStore) ClaimEpisode(ctx context.Context, req ClaimRequest) (*model.ActionItem, error) {
	var item *model.ActionItem
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `SELECT id FROM action_items WHERE episode_key = ?`, req.VenueID).Scan(&existing)
		switch {
		case err == nil:
			return fmt.Errorf("venue %s has active action item %s: %w", req.VenueID, existing, model.ErrConflict)
		case !errors.Is(err, sql.ErrNoRows):
			return unavailable(err)
		}

		members, err := interestedUsers(ctx, tx, req.VenueID)
		if err != nil {
			return err
		}
		if err := checkClaim(req, members); err != nil {
			return err
		}
		item = model.NewActionItem(req.ID, req.VenueID, req.InitiatorID, members, req.Now)
		return insertActionItem(ctx, tx, item)
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

func insertActionItem(ctx context.Context, tx *sql.Tx, item *model.ActionItem) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO action_items (id, venue_id, initiator_id, status, episode_key, chat_id, chat_attempt_at,
		  created_at, formed_at, exhausted_at, dismissed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.VenueID, item.InitiatorID, string(item.Status), episodeKey(item), item.ChatID,
		timeArg(item.ChatAttemptAt), item.CreatedAt.UnixNano(),
		timeArg(item.FormedAt), timeArg(item.ExhaustedAt), timeArg(item.DismissedAt), item.Version)
	if err != nil {
		return dbError(err)
	}

	for pos, userID := range item.Snapshot {
		var status, respondedAt any
		if c := item.Confirmation(userID); c != nil {
			status = string(c.Status)
			respondedAt = timeArg(c.RespondedAt)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO action_item_members (action_item_id, user_id, position, status, responded_at)
			VALUES (?, ?, ?, ?, ?)
		`, item.ID, userID, pos, status, respondedAt); err != nil {
			return dbError(err)
		}
	}
	return nil
}

func loadActionItem(ctx context.Context, q querier, id string) (*model.ActionItem, error) {
	var (
		item                             model.ActionItem
		status                           string
		createdAt                        int64
		formedAt, exhaustedAt, dismissed sql.NullInt64
		chatAttemptAt                    sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, venue_id, initiator_id, status, chat_id, chat_attempt_at,
		  created_at, formed_at, exhausted_at, dismissed_at, version
		FROM action_items WHERE id = ?
	`, id).Scan(&item.ID, &item.VenueID, &item.InitiatorID, &status, &item.ChatID, &chatAttemptAt,
		&createdAt, &formedAt, &exhaustedAt, &dismissed, &item.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("action item %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	item.Status = model.ActionItemStatus(status)
	item.CreatedAt = time.Unix(0, createdAt).UTC()
	item.ChatAttemptAt = timeFrom(chatAttemptAt)
	item.FormedAt = timeFrom(formedAt)
	item.ExhaustedAt = timeFrom(exhaustedAt)
	item.DismissedAt = timeFrom(dismissed)

	rows, err := q.QueryContext(ctx, `
		SELECT user_id, status, responded_at FROM action_item_members
		WHERE action_item_id = ? ORDER BY position
	`, id)
	if err != nil {
		return nil, unavailable(err)
	}
	defer rows.Close()

	item.Snapshot = make([]string, 0)
	item.Confirmations = make([]model.Confirmation, 0)
	for rows.Next() {
		var (
			userID      string
			rStatus     sql.NullString
			respondedAt sql.NullInt64
		)
		if err := rows.Scan(&userID, &rStatus, &respondedAt); err != nil {
			return nil, unavailable(err)
		}
		item.Snapshot = append(item.Snapshot, userID)
		if rStatus.Valid {
			item.Confirmations = append(item.Confirmations, model.Confirmation{
				UserID:      userID,
				Status:      model.ResponseStatus(rStatus.String),
				RespondedAt: timeFrom(respondedAt),
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(err)
	}
	return &item, nil
}

func (s *SQLiteStore) ActiveEpisode(ctx context.Context, venueID string) (*model.ActionItem, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM action_items WHERE episode_key = ?`, venueID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active episode for venue %s: %w", venueID, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return loadActionItem(ctx, s.db, id)
}

func (s *SQLiteStore) GetActionItem(ctx context.Context, id string) (*model.ActionItem, error) {
	return loadActionItem(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateActionItem(ctx context.Context, id string, fn Mutation) (*model.ActionItem, error) {
	var result *model.ActionItem
	var fnErr error
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		current, err := loadActionItem(ctx, tx, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		changed, err := fn(next)
		if err != nil {
			result, fnErr = current, err
			return err
		}
		if !changed {
			result = current
			return nil
		}
		if err := saveActionItem(ctx, tx, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if fnErr != nil {
		return result, fnErr
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

func saveActionItem(ctx context.Context, tx *sql.Tx, item *model.ActionItem) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE action_items SET status = ?, episode_key = ?, chat_id = ?, chat_attempt_at = ?,
		  formed_at = ?, exhausted_at = ?, dismissed_at = ?, version = ?
		WHERE id = ?
	`, string(item.Status), episodeKey(item), item.ChatID, timeArg(item.ChatAttemptAt),
		timeArg(item.FormedAt), timeArg(item.ExhaustedAt), timeArg(item.DismissedAt), item.Version, item.ID)
	if err != nil {
		return dbError(err)
	}
	for _, c := range item.Confirmations {
		if _, err := tx.ExecContext(ctx, `
			UPDATE action_item_members SET status = ?, responded_at = ?
			WHERE action_item_id = ? AND user_id = ?
		`, string(c.Status), timeArg(c.RespondedAt), item.ID, c.UserID); err != nil {
			return dbError(err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListActionItems(ctx context.Context, status model.ActionItemStatus) ([]*model.ActionItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM action_items WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, unavailable(err)
	}
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, unavailable(err)
		}
		ids = append(ids, id)
	}
	// The single connection must be released before loading each item.
	if err := rows.Close(); err != nil {
		return nil, unavailable(err)
	}

	out := make([]*model.ActionItem, 0, len(ids))
	for _, id := range ids {
		item, err := loadActionItem(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, nil
}

func episodeKey(item *model.ActionItem) any {
	if item.Status == model.StatusActive {
		return item.VenueID
	}
	return nil
}

func timeArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func timeFrom(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64).UTC()
	return &t
}

func geoArgs(p *model.GeoPoint) (any, any) {
	if p == nil {
		return nil, nil
	}
	return p.Lat, p.Lng
}

func geoFrom(lat, lng sql.NullFloat64) *model.GeoPoint {
	if !lat.Valid || !lng.Valid {
		return nil
	}
	return &model.GeoPoint{Lat: lat.Float64, Lng: lng.Float64}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqliteConstraint, sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return true
		}
	}
	return false
}

func dbError(err error) error {
	if isConstraintError(err) {
		return fmt.Errorf("%w: %w", model.ErrConflict, err)
	}
	return unavailable(err)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", model.ErrUnavailable, err)
}
