package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/rally/internal/adapters/mq/queue"
	"github.com/okian/rally/internal/adapters/mq/worker"
	"github.com/okian/rally/internal/domain/model"
	logging "github.com/okian/rally/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	eventChan chan queue.Event
}

func newMockQueue() *mockQueue {
	return &mockQueue{eventChan: make(chan queue.Event, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Event { return mq.eventChan }

func (mq *mockQueue) Close() error {
	close(mq.eventChan)
	return nil
}

type mockNotifier struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]error
}

func (m *mockNotifier) Notify(_ context.Context, n queue.Event) error { //nolint:gocritic // value semantics for channel payloads
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.failOn[n.ID]; ok {
		return err
	}
	m.sent = append(m.sent, n.ID)
	return nil
}

func (m *mockNotifier) delivered() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.sent...)
}

func event(id string) queue.Event {
	return model.Notification{ID: id, Kind: model.NotifyGroupFormed, Recipients: []string{"ann"}}
}

func TestWorker(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a worker over a mock queue", t, func() {
		q := newMockQueue()
		n := &mockNotifier{failOn: map[string]error{"bad": errors.New("push down")}}
		w := worker.NewInMemoryWorker(q, n, worker.WithName("test"), worker.WithDeliveryTimeout(time.Second))

		convey.Convey("When notifications arrive and the queue closes", func() {
			q.eventChan <- event("a")
			q.eventChan <- event("bad")
			q.eventChan <- event("b")
			_ = q.Close()
			w.Run(context.Background())

			convey.Convey("Then good ones are delivered and failures do not stop the loop", func() {
				convey.So(n.delivered(), convey.ShouldResemble, []string{"a", "b"})
			})
		})

		convey.Convey("When shut down while idle", func() {
			go w.Run(context.Background())
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			convey.So(w.Shutdown(ctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	_ = logging.Init()

	convey.Convey("Given a pool over a real queue", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		n := &mockNotifier{}
		p := worker.NewPool(4, q, n)
		convey.So(p.Size(), convey.ShouldEqual, 4)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		for _, id := range []string{"1", "2", "3", "4", "5", "6"} {
			convey.So(q.Enqueue(ctx, event(id)), convey.ShouldBeTrue)
		}

		convey.Convey("When the pool shuts down", func() {
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)

			convey.Convey("Then every queued notification was delivered", func() {
				convey.So(n.delivered(), convey.ShouldHaveLength, 6)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}

func TestPoolDefaultsWorkerCount(t *testing.T) {
	_ = logging.Init()

	convey.Convey("A non-positive worker count falls back to the CPU count", t, func() {
		p := worker.NewPool(0, newMockQueue(), &mockNotifier{})
		convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
