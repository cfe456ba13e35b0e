package events

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBusDeliversTypedEvents(t *testing.T) {
	bus := NewBus()

	var (
		mu      sync.Mutex
		created []string
		updated []StudyUpdated
	)
	On(bus, func(_ context.Context, evt StudyCreated) error {
		mu.Lock()
		defer mu.Unlock()
		created = append(created, evt.StudyID)
		return nil
	})
	On(bus, func(_ context.Context, evt StudyUpdated) error {
		mu.Lock()
		defer mu.Unlock()
		updated = append(updated, evt)
		return nil
	})

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(StudyCreated{StudyID: "s1"}))
	require.NoError(t, bus.Publish(StudyUpdated{StudyID: "s1", Message: "closed"}))
	bus.Close()

	require.Equal(t, []string{"s1"}, created)
	require.Equal(t, []StudyUpdated{{StudyID: "s1", Message: "closed"}}, updated)
}

func TestPublishDoesNotRunHandlerOnCaller(t *testing.T) {
	bus := NewBus()
	release := make(chan struct{})
	done := make(chan struct{})

	On(bus, func(_ context.Context, _ StudyCreated) error {
		<-release
		close(done)
		return nil
	})
	bus.Start(context.Background())
	defer bus.Close()

	require.NoError(t, bus.Publish(StudyCreated{StudyID: "s1"}))
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

func TestPublishReportsFullQueue(t *testing.T) {
	bus := NewBus(WithQueueSize(1))
	defer bus.Close()

	require.NoError(t, bus.Publish(StudyCreated{StudyID: "a"}))
	require.ErrorIs(t, bus.Publish(StudyCreated{StudyID: "b"}), ErrBusFull)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewBus()
	bus.Start(context.Background())
	bus.Close()

	require.ErrorIs(t, bus.Publish(StudyCreated{StudyID: "a"}), ErrBusClosed)
	bus.Close()
}

func TestHandlerFailuresAreIsolated(t *testing.T) {
	core, recorded := observer.New(zap.ErrorLevel)
	bus := NewBus(WithLogger(zap.New(core)), WithWorkers(2))

	var calls atomic.Int32
	On(bus, func(_ context.Context, _ StudyUpdated) error {
		calls.Add(1)
		return errors.New("smtp down")
	})
	On(bus, func(_ context.Context, _ StudyUpdated) error {
		calls.Add(1)
		panic("boom")
	})
	On(bus, func(_ context.Context, _ StudyUpdated) error {
		calls.Add(1)
		return nil
	})

	bus.Start(context.Background())
	require.NoError(t, bus.Publish(StudyUpdated{StudyID: "s"}))
	bus.Close()

	require.EqualValues(t, 3, calls.Load())
	require.Equal(t, 2, recorded.Len())
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	bus := NewBus(WithQueueSize(16))
	var handled atomic.Int32
	On(bus, func(_ context.Context, _ StudyCreated) error {
		time.Sleep(time.Millisecond)
		handled.Add(1)
		return nil
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, bus.Publish(StudyCreated{StudyID: "s"}))
	}
	bus.Start(context.Background())
	bus.Close()

	require.EqualValues(t, 10, handled.Load())
}
