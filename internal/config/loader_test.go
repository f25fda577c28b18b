package config_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/okian/rally/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

// load sets env for the duration of t and loads the configuration.
func load(t *testing.T, env map[string]string) (*config.Config, error) {
	t.Helper()
	for _, key := range []string{"RALLY_CONFIG", "RALLY_ADDR", "RALLY_STORE_DRIVER"} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
	return config.Load(context.Background())
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rally.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	convey.Convey("Given no file and no RALLY_ variables", t, func() {
		cfg, err := load(t, nil)

		convey.Convey("Then the engine defaults apply", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreMemory)
			convey.So(cfg.TriggerThreshold, convey.ShouldEqual, 3)
			convey.So(cfg.FormationQuorum, convey.ShouldEqual, 3)
			convey.So(cfg.ExhaustionGrace().Minutes(), convey.ShouldEqual, 15)
			convey.So(cfg.EpisodeTimeout().Hours(), convey.ShouldEqual, 48)
			convey.So(cfg.ChatLease().Seconds(), convey.ShouldEqual, 60)
		})
	})
}

func TestLoadFromEnvironment(t *testing.T) {
	convey.Convey("Given engine tuning in the environment", t, func() {
		cfg, err := load(t, map[string]string{
			"RALLY_TRIGGER_THRESHOLD": "5",
			"RALLY_FORMATION_QUORUM":  "4",
			"RALLY_STORE_DRIVER":      "sqlite",
			"RALLY_CHAT_WEBHOOK_URL":  "http://chat.local/create",
		})

		convey.Convey("Then the variables override the defaults", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.TriggerThreshold, convey.ShouldEqual, 5)
			convey.So(cfg.FormationQuorum, convey.ShouldEqual, 4)
			convey.So(cfg.StoreDriver, convey.ShouldEqual, config.StoreSQLite)
			convey.So(cfg.ChatWebhookURL, convey.ShouldEqual, "http://chat.local/create")
		})
	})
}

func TestLoadLayersFileUnderEnvironment(t *testing.T) {
	convey.Convey("Given a YAML file and a conflicting variable", t, func() {
		path := writeConfigFile(t, `
# smaller groups for the pilot venues
addr: ":9090"
trigger_threshold: 4
exhaustion_grace_seconds: 60
worker_count: 2
`)
		cfg, err := load(t, map[string]string{
			"RALLY_CONFIG": path,
			"RALLY_ADDR":   ":8080",
		})

		convey.Convey("Then the variable wins and the file fills the rest", func() {
			convey.So(err, convey.ShouldBeNil)
			convey.So(cfg.Addr, convey.ShouldEqual, ":8080")
			convey.So(cfg.TriggerThreshold, convey.ShouldEqual, 4)
			convey.So(cfg.ExhaustionGraceSeconds, convey.ShouldEqual, 60)
			convey.So(cfg.WorkerCount, convey.ShouldEqual, 2)
			convey.So(cfg.FormationQuorum, convey.ShouldEqual, 3)
		})
	})
}

func TestLoadFailures(t *testing.T) {
	cases := []struct {
		name   string
		file   string
		env    map[string]string
		target error
	}{
		{name: "malformed YAML", file: "invalid: yaml: content: [", target: config.ErrLoadConfig},
		{name: "missing file", env: map[string]string{"RALLY_CONFIG": "/non/existent/rally.yaml"}, target: config.ErrLoadConfig},
		{name: "non-numeric threshold", env: map[string]string{"RALLY_TRIGGER_THRESHOLD": "many"}, target: config.ErrLoadConfig},
		{name: "empty addr", env: map[string]string{"RALLY_ADDR": ""}, target: config.ErrInvalidConfig},
		{name: "unknown store driver", env: map[string]string{"RALLY_STORE_DRIVER": "redis"}, target: config.ErrInvalidConfig},
		{name: "zero quorum", env: map[string]string{"RALLY_FORMATION_QUORUM": "0"}, target: config.ErrInvalidConfig},
		{name: "zero chat lease", env: map[string]string{"RALLY_CHAT_LEASE_SECONDS": "0"}, target: config.ErrInvalidConfig},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			convey.Convey("Given "+tc.name, t, func() {
				env := map[string]string{}
				for k, v := range tc.env {
					env[k] = v
				}
				if tc.file != "" {
					env["RALLY_CONFIG"] = writeConfigFile(t, tc.file)
				}
				cfg, err := load(t, env)

				convey.Convey("Then loading fails", func() {
					convey.So(cfg, convey.ShouldBeNil)
					convey.So(errors.Is(err, tc.target), convey.ShouldBeTrue)
				})
			})
		})
	}
}
