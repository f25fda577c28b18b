package simulate

import (
	"runtime"
	"time"
)

const (
	defaultVenues        = 10
	defaultUsersPerVenue = 8
	defaultThreshold     = 3
	defaultQuorum        = 3
	workerMultiplier     = 2
)

// Config describes one simulation run.
type Config struct {
	Venues        int    // venues seeded and contested
	UsersPerVenue int    // users toggling interest in each venue at once
	Threshold     int    // the server's trigger threshold
	Quorum        int    // the server's formation quorum
	Workers       int    // concurrent requests in flight
	Confirm       bool   // have every pending member confirm afterwards
	Prefix        string // namespace for generated venue and user IDs
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Venues <= 0 {
		c.Venues = defaultVenues
	}
	if c.UsersPerVenue <= 0 {
		c.UsersPerVenue = defaultUsersPerVenue
	}
	if c.Threshold <= 0 {
		c.Threshold = defaultThreshold
	}
	if c.Quorum <= 0 {
		c.Quorum = defaultQuorum
	}
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU() * workerMultiplier
	}
	if c.Prefix == "" {
		c.Prefix = "sim-" + time.Now().UTC().Format("20060102T150405")
	}
	return c
}

// Stats summarises a run.
type Stats struct {
	TogglesSubmitted int
	TogglesFailed    int
	Triggers         int
	ActionItems      int
	Confirmations    int
	GroupsFormed     int
	Duration         time.Duration
}
