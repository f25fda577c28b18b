package config_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/rally/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.TriggerThreshold, convey.ShouldEqual, 3)
			convey.So(cfg.FormationQuorum, convey.ShouldEqual, 3)
			convey.So(cfg.ExhaustionGrace(), convey.ShouldEqual, 15*time.Minute)
			convey.So(cfg.EpisodeTimeout(), convey.ShouldEqual, 48*time.Hour)
			convey.So(cfg.SweepInterval(), convey.ShouldEqual, 30*time.Second)
			convey.So(cfg.ChatTimeout(), convey.ShouldEqual, 3*time.Second)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with a single invalid field", t, func() {
		cases := map[string]func(*config.Config){
			"empty addr":        func(c *config.Config) { c.Addr = "" },
			"zero threshold":    func(c *config.Config) { c.TriggerThreshold = 0 },
			"zero quorum":       func(c *config.Config) { c.FormationQuorum = 0 },
			"negative grace":    func(c *config.Config) { c.ExhaustionGraceSeconds = -1 },
			"negative timeout":  func(c *config.Config) { c.EpisodeTimeoutMinutes = -1 },
			"zero sweep":        func(c *config.Config) { c.SweepIntervalSeconds = 0 },
			"zero saturation":   func(c *config.Config) { c.PopularitySaturation = 0 },
			"zero workers":      func(c *config.Config) { c.WorkerCount = 0 },
			"unknown driver":    func(c *config.Config) { c.StoreDriver = "cassandra" },
			"empty driver name": func(c *config.Config) { c.StoreDriver = "" },
		}

		for name, mutate := range cases {
			cfg := config.New()
			mutate(cfg)
			convey.Convey("Then "+name+" is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}

		convey.Convey("Then a zero episode timeout is allowed", func() {
			cfg := config.New()
			cfg.EpisodeTimeoutMinutes = 0
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}
