// Package model contains domain models passed between layers.
package model

import "time"

// GeoPoint is a WGS84 coordinate.
type GeoPoint struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

// Venue is a place members can show interest in.
type Venue struct {
	ID       string    `json:"id" bson:"_id"`
	Name     string    `json:"name" bson:"name"`
	Category string    `json:"category" bson:"category"`
	Location *GeoPoint `json:"location,omitempty" bson:"location,omitempty"`
}

// VenueAggregate is a venue together with its derived interest count.
type VenueAggregate struct {
	Venue
	InterestedCount int `json:"interested_count"`
}

// UserProfile is the read model of a member used for scoring.
type UserProfile struct {
	ID          string    `json:"id" bson:"_id"`
	DisplayName string    `json:"display_name" bson:"display_name"`
	Interests   []string  `json:"interests" bson:"interests"`
	Friends     []string  `json:"friends" bson:"friends"`
	Location    *GeoPoint `json:"location,omitempty" bson:"location,omitempty"`
}

// InterestRecord marks a user as interested in a venue. At most one per pair.
type InterestRecord struct {
	UserID    string    `bson:"user_id"`
	VenueID   string    `bson:"venue_id"`
	CreatedAt time.Time `bson:"created_at"`
}

// InterestChange is the outcome of a toggle, read in the same atomic step as the write.
type InterestChange struct {
	Interested bool
	Count      int
	// Members lists every user interested after the toggle.
	Members []string
}

// Crossed reports whether this toggle moved the count from below threshold to
// threshold. A toggle changes the count by exactly one.
func (c InterestChange) Crossed(threshold int) bool {
	return c.Interested && c.Count == threshold
}
