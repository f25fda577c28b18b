//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/okian/rally/internal/adapters/repository"
	"github.com/okian/rally/internal/domain/model"
)

const mongoPort = "27017/tcp"

// TestMain adds a MongoDB container to the store suite when Docker is
// available and RALLY_TEST_MONGO_URI does not already point at a server.
func TestMain(m *testing.M) {
	os.Exit(runWithMongo(m))
}

func runWithMongo(m *testing.M) int {
	if os.Getenv("RALLY_TEST_MONGO_URI") != "" || !dockerAvailable() {
		return m.Run()
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{mongoPort},
			WaitingFor:   wait.ForListeningPort(mongoPort).WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start mongo container: %v\n", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "terminate mongo container: %v\n", err)
		}
	}()

	uri, err := container.PortEndpoint(ctx, mongoPort, "mongodb")
	if err != nil {
		fmt.Fprintf(os.Stderr, "mongo endpoint: %v\n", err)
		return 1
	}
	if err := os.Setenv("RALLY_TEST_MONGO_URI", uri); err != nil {
		fmt.Fprintf(os.Stderr, "set mongo uri: %v\n", err)
		return 1
	}
	return m.Run()
}

func dockerAvailable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, "docker", "info").Run() == nil
}

func TestMongoClaimClearsStaleMarker(t *testing.T) {
	uri := os.Getenv("RALLY_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("no MongoDB available")
	}

	Convey("Given a venue whose episode marker names an item that never landed", t, func() {
		ctx := context.Background()
		db := "rally_test_" + uuid.NewString()[:8]
		s, err := repository.OpenMongo(ctx, uri, db, repository.WithMetricsUpdateInterval(0))
		So(err, ShouldBeNil)
		defer s.Close()

		for i, u := range []string{"alice", "bob", "carol"} {
			_, err := s.ToggleInterest(ctx, u, "v1", at(i))
			So(err, ShouldBeNil)
		}

		raw, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
		So(err, ShouldBeNil)
		defer func() { _ = raw.Disconnect(ctx) }()
		interests := raw.Database(db).Collection("interests")
		_, err = interests.UpdateOne(ctx, bson.M{"_id": "v1"},
			bson.M{"$set": bson.M{"episode_open": bson.M{"id": "ghost", "at": at(0)}}})
		So(err, ShouldBeNil)

		req := repository.ClaimRequest{ID: "ai-1", VenueID: "v1", InitiatorID: "carol", Threshold: 3, Now: at(10)}

		Convey("When a fresh marker is still young", func() {
			young := req
			young.Now = at(1)
			_, err := s.ClaimEpisode(ctx, young)

			Convey("Then the claim conflicts", func() {
				So(errors.Is(err, model.ErrConflict), ShouldBeTrue)
			})
		})

		Convey("When the marker is older than the claim window", func() {
			req.Now = at(0).Add(time.Minute)
			item, err := s.ClaimEpisode(ctx, req)

			Convey("Then the claim takes over the venue", func() {
				So(err, ShouldBeNil)
				So(item.Snapshot, ShouldResemble, []string{"carol", "alice", "bob"})

				var doc struct {
					EpisodeOpen struct {
						ID string `bson:"id"`
					} `bson:"episode_open"`
				}
				So(interests.FindOne(ctx, bson.M{"_id": "v1"}).Decode(&doc), ShouldBeNil)
				So(doc.EpisodeOpen.ID, ShouldEqual, "ai-1")
			})
		})
	})
}
