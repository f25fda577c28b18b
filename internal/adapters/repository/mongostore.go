package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/rally/internal/domain/model"
)

const (
	collVenues      = "venues"
	collProfiles    = "profiles"
	collInterests   = "interests"
	collActionItems = "action_items"

	mongoDisconnectTimeout = 5 * time.Second
	// staleClaimAfter is how long an episode marker may point at an item that
	// was never inserted before another claim may clear it.
	staleClaimAfter = 30 * time.Second
)

// MongoStore is a Store on MongoDB. Each venue's interest set lives in one
// document and each action item embeds its confirmations, so every write is a
// single-document operation. A claim marks the venue's interest document with
// episode_open in the same update that reads the snapshot; a partial unique
// index on episode_key backs the one active item per venue rule.
type MongoStore struct {
	client      *mongo.Client
	venues      *mongo.Collection
	profiles    *mongo.Collection
	interests   *mongo.Collection
	actionItems *mongo.Collection
	casRetries  int

	stop      chan struct{}
	closeOnce sync.Once
}

var _ Store = (*MongoStore)(nil)

// interestDoc holds every interest record of one venue in insertion order.
type interestDoc struct {
	VenueID     string                 `bson:"_id"`
	Members     []model.InterestRecord `bson:"members"`
	EpisodeOpen *episodeMarker         `bson:"episode_open,omitempty"`
}

// episodeMarker names the action item that holds a venue's episode.
type episodeMarker struct {
	ID string    `bson:"id"`
	At time.Time `bson:"at"`
}

func (d interestDoc) userIDs() []string {
	out := make([]string, 0, len(d.Members))
	for _, m := range d.Members {
		out = append(out, m.UserID)
	}
	return out
}

type actionItemDoc struct {
	model.ActionItem `bson:",inline"`
	// EpisodeKey is the venue ID while active and absent afterwards.
	EpisodeKey string `bson:"episode_key,omitempty"`
}

func toDoc(item *model.ActionItem) actionItemDoc {
	doc := actionItemDoc{ActionItem: *item}
	if item.Status == model.StatusActive {
		doc.EpisodeKey = item.VenueID
	}
	return doc
}

// OpenMongo connects to uri, verifies the connection and ensures indexes.
func OpenMongo(ctx context.Context, uri, database string, opts ...Option) (*MongoStore, error) {
	o := newStoreOptions(opts)

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, unavailable(err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, unavailable(err)
	}

	db := client.Database(database)
	s := &MongoStore{
		client:      client,
		venues:      db.Collection(collVenues),
		profiles:    db.Collection(collProfiles),
		interests:   db.Collection(collInterests),
		actionItems: db.Collection(collActionItems),
		casRetries:  o.casRetries,
		stop:        make(chan struct{}),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	startMetricsUpdater(ctx, s, o, s.stop)
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	if _, err := s.actionItems.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "episode_key", Value: 1}},
			Options: options.Index().SetName("uniq_active_episode").SetUnique(true).
				SetPartialFilterExpression(bson.M{"episode_key": bson.M{"$exists": true}}),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "created_at", Value: 1}},
			Options: options.Index().SetName("idx_action_item_status_created"),
		},
	}); err != nil {
		return unavailable(err)
	}
	if _, err := s.interests.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "members.user_id", Value: 1}},
		Options: options.Index().SetName("idx_interest_member"),
	}); err != nil {
		return unavailable(err)
	}
	return nil
}

// Close stops the background updater and disconnects.
func (s *MongoStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()
		err = s.client.Disconnect(ctx)
	})
	return err
}

func (s *MongoStore) ToggleInterest(ctx context.Context, userID, venueID string, now time.Time) (model.InterestChange, error) {
	members := bson.M{"$ifNull": bson.A{"$members", bson.A{}}}
	present := bson.M{"$in": bson.A{userID, bson.M{"$ifNull": bson.A{"$members.user_id", bson.A{}}}}}
	record := bson.M{"user_id": userID, "venue_id": venueID, "created_at": now}

	// One pipeline update flips membership, so the returned document is the
	// interest set right after this toggle.
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"members": bson.M{"$cond": bson.A{
			present,
			bson.M{"$filter": bson.M{
				"input": members,
				"as":    "m",
				"cond":  bson.M{"$ne": bson.A{"$$m.user_id", userID}},
			}},
			bson.M{"$concatArrays": bson.A{members, bson.A{record}}},
		}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc interestDoc
	if err := s.interests.FindOneAndUpdate(ctx, bson.M{"_id": venueID}, update, opts).Decode(&doc); err != nil {
		return model.InterestChange{}, unavailable(err)
	}
	ids := doc.userIDs()
	return model.InterestChange{
		Interested: slices.Contains(ids, userID),
		Count:      len(ids),
		Members:    ids,
	}, nil
}

func (s *MongoStore) interestDoc(ctx context.Context, venueID string) (interestDoc, error) {
	var doc interestDoc
	err := s.interests.FindOne(ctx, bson.M{"_id": venueID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return interestDoc{VenueID: venueID}, nil
	}
	if err != nil {
		return doc, unavailable(err)
	}
	return doc, nil
}

func (s *MongoStore) InterestedUsers(ctx context.Context, venueID string) ([]string, error) {
	doc, err := s.interestDoc(ctx, venueID)
	if err != nil {
		return nil, err
	}
	return doc.userIDs(), nil
}

func (s *MongoStore) InterestsOf(ctx context.Context, userIDs []string) (map[string][]string, error) {
	out := make(map[string][]string)
	if len(userIDs) == 0 {
		return out, nil
	}
	cur, err := s.interests.Find(ctx, bson.M{"members.user_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []interestDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	for _, d := range docs {
		for _, m := range d.Members {
			if slices.Contains(userIDs, m.UserID) {
				out[d.VenueID] = append(out[d.VenueID], m.UserID)
			}
		}
	}
	return out, nil
}

func (s *MongoStore) UpsertVenue(ctx context.Context, v model.Venue) error {
	_, err := s.venues.ReplaceOne(ctx, bson.M{"_id": v.ID}, v, options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *MongoStore) GetVenue(ctx context.Context, venueID string) (model.VenueAggregate, error) {
	var v model.Venue
	err := s.venues.FindOne(ctx, bson.M{"_id": venueID}).Decode(&v)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return model.VenueAggregate{}, fmt.Errorf("venue %s: %w", venueID, model.ErrNotFound)
	}
	if err != nil {
		return model.VenueAggregate{}, unavailable(err)
	}
	doc, err := s.interestDoc(ctx, venueID)
	if err != nil {
		return model.VenueAggregate{}, err
	}
	return model.VenueAggregate{Venue: v, InterestedCount: len(doc.Members)}, nil
}

func (s *MongoStore) ListVenues(ctx context.Context) ([]model.VenueAggregate, error) {
	cur, err := s.venues.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable(err)
	}
	var venues []model.Venue
	if err := cur.All(ctx, &venues); err != nil {
		return nil, unavailable(err)
	}

	counts := make(map[string]int, len(venues))
	icur, err := s.interests.Find(ctx, bson.M{})
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []interestDoc
	if err := icur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	for _, d := range docs {
		counts[d.VenueID] = len(d.Members)
	}

	out := make([]model.VenueAggregate, 0, len(venues))
	for _, v := range venues {
		out = append(out, model.VenueAggregate{Venue: v, InterestedCount: counts[v.ID]})
	}
	return out, nil
}

func (s *MongoStore) UpsertProfile(ctx context.Context, p model.UserProfile) error {
	p.Interests = nonNil(p.Interests)
	p.Friends = nonNil(p.Friends)
	_, err := s.profiles.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *MongoStore) GetProfile(ctx context.Context, userID string) (model.UserProfile, error) {
	var p model.UserProfile
	err := s.profiles.FindOne(ctx, bson.M{"_id": userID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return p, fmt.Errorf("profile %s: %w", userID, model.ErrNotFound)
	}
	if err != nil {
		return p, unavailable(err)
	}
	return p, nil
}

func (s *MongoStore) GetProfiles(ctx context.Context, ids []string) ([]model.UserProfile, error) {
	out := make([]model.UserProfile, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	cur, err := s.profiles.Find(ctx, bson.M{"_id": bson.M{"$in": ids}},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable(err)
	}
	if err := cur.All(ctx, &out); err != nil {
		return nil, unavailable(err)
	}
	return out, nil
}

func (s *MongoStore) ClaimEpisode(ctx context.Context, req ClaimRequest) (*model.ActionItem, error) {
	doc, err := s.openEpisode(ctx, req)
	if err != nil {
		return nil, err
	}
	members := doc.userIDs()
	if err := checkClaim(req, members); err != nil {
		s.releaseEpisode(ctx, req.VenueID, req.ID)
		return nil, err
	}
	item := model.NewActionItem(req.ID, req.VenueID, req.InitiatorID, members, req.Now)
	if _, err := s.actionItems.InsertOne(ctx, toDoc(item)); err != nil {
		s.releaseEpisode(ctx, req.VenueID, req.ID)
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("venue %s already has an active action item: %w", req.VenueID, model.ErrConflict)
		}
		return nil, unavailable(err)
	}
	return item, nil
}

// openEpisode sets the venue's episode marker to req.ID and returns the
// interest set the marker was set against, in one single-document update. A
// marker left behind by an item that is no longer active is cleared first.
func (s *MongoStore) openEpisode(ctx context.Context, req ClaimRequest) (interestDoc, error) {
	marker := episodeMarker{ID: req.ID, At: req.Now}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	for attempt := 0; attempt < s.casRetries; attempt++ {
		var doc interestDoc
		err := s.interests.FindOneAndUpdate(ctx,
			bson.M{"_id": req.VenueID, "episode_open": bson.M{"$exists": false}},
			bson.M{"$set": bson.M{"episode_open": marker}},
			opts,
		).Decode(&doc)
		if err == nil {
			return doc, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return doc, unavailable(err)
		}

		// No interest document yet, or another item holds the marker.
		current, err := s.interestDoc(ctx, req.VenueID)
		if err != nil {
			return current, err
		}
		holder := current.EpisodeOpen
		if holder == nil {
			if len(current.Members) == 0 {
				return current, nil
			}
			continue
		}
		stale, err := s.staleMarker(ctx, holder, req.Now)
		if err != nil {
			return current, err
		}
		if !stale {
			return current, fmt.Errorf("venue %s already has an active action item: %w", req.VenueID, model.ErrConflict)
		}
		s.releaseEpisode(ctx, req.VenueID, holder.ID)
	}
	return interestDoc{}, fmt.Errorf("venue %s: concurrent claims exhausted %d retries: %w",
		req.VenueID, s.casRetries, model.ErrUnavailable)
}

// staleMarker reports whether the marker's item has left the active state or
// was never inserted.
func (s *MongoStore) staleMarker(ctx context.Context, m *episodeMarker, now time.Time) (bool, error) {
	item, err := s.GetActionItem(ctx, m.ID)
	switch {
	case err == nil:
		return item.Status != model.StatusActive, nil
	case errors.Is(err, model.ErrNotFound):
		return now.Sub(m.At) >= staleClaimAfter, nil
	default:
		return false, err
	}
}

// releaseEpisode clears the venue's marker if it still names actionItemID. A
// failed release is healed by the next claim.
func (s *MongoStore) releaseEpisode(ctx context.Context, venueID, actionItemID string) {
	_, _ = s.interests.UpdateOne(ctx,
		bson.M{"_id": venueID, "episode_open.id": actionItemID},
		bson.M{"$unset": bson.M{"episode_open": ""}},
	)
}

func (s *MongoStore) findItem(ctx context.Context, filter bson.M, what string) (*model.ActionItem, error) {
	var doc actionItemDoc
	err := s.actionItems.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%s: %w", what, model.ErrNotFound)
	}
	if err != nil {
		return nil, unavailable(err)
	}
	item := doc.ActionItem
	return &item, nil
}

func (s *MongoStore) ActiveEpisode(ctx context.Context, venueID string) (*model.ActionItem, error) {
	return s.findItem(ctx, bson.M{"episode_key": venueID}, "active episode for venue "+venueID)
}

func (s *MongoStore) GetActionItem(ctx context.Context, id string) (*model.ActionItem, error) {
	return s.findItem(ctx, bson.M{"_id": id}, "action item "+id)
}

// UpdateActionItem replaces the document only if its version is unchanged
// since it was read, retrying on a lost race.
func (s *MongoStore) UpdateActionItem(ctx context.Context, id string, fn Mutation) (*model.ActionItem, error) {
	for attempt := 0; attempt < s.casRetries; attempt++ {
		current, err := s.GetActionItem(ctx, id)
		if err != nil {
			return nil, err
		}
		next := current.Clone()
		changed, err := fn(next)
		if err != nil {
			return current, err
		}
		if !changed {
			return current, nil
		}
		if next.Version <= current.Version {
			next.Version = current.Version + 1
		}

		res, err := s.actionItems.ReplaceOne(ctx, bson.M{"_id": id, "version": current.Version}, toDoc(next))
		if err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return nil, fmt.Errorf("action item %s: %w", id, model.ErrConflict)
			}
			return nil, unavailable(err)
		}
		if res.MatchedCount == 1 {
			if current.Status == model.StatusActive && next.Status != model.StatusActive {
				s.releaseEpisode(ctx, next.VenueID, next.ID)
			}
			return next, nil
		}
	}
	return nil, fmt.Errorf("action item %s: concurrent updates exhausted %d retries: %w",
		id, s.casRetries, model.ErrUnavailable)
}

func (s *MongoStore) ListActionItems(ctx context.Context, status model.ActionItemStatus) ([]*model.ActionItem, error) {
	cur, err := s.actionItems.Find(ctx, bson.M{"status": status},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, unavailable(err)
	}
	var docs []actionItemDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, unavailable(err)
	}
	out := make([]*model.ActionItem, 0, len(docs))
	for i := range docs {
		item := docs[i].ActionItem
		out = append(out, &item)
	}
	return out, nil
}
