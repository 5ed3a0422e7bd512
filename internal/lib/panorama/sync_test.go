package panorama

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

type MockFinder struct {
	mock.Mock
}

func (m *MockFinder) Nearest(ctx context.Context, point geo.Point, radiusMeters int) (Result, error) {
	args := m.Called(ctx, point, radiusMeters)
	return args.Get(0).(Result), args.Error(1)
}

// queue collects dispatched callbacks so the test decides when they run
type queue chan func()

func (q queue) dispatch(fn func()) bool {
	q <- fn
	return true
}

func (q queue) runNext(t *testing.T) {
	t.Helper()
	select {
	case fn := <-q:
		fn()
	case <-time.After(2 * time.Second):
		t.Fatal("no result dispatched")
	}
}

var (
	gangnam = geo.Point{Latitude: 37.4979, Longitude: 127.0276}
	found   = Result{Found: true, PanoramaID: "pano-1", Point: gangnam}
)

func newTestSync(t *testing.T, finder Finder) (*Sync, queue, *[]Result) {
	t.Helper()
	q := make(queue, 16)
	var synced []Result
	s := NewSync(finder, q.dispatch, func(r Result) { synced = append(synced, r) })
	return s, q, &synced
}

func TestSync_FirstPositionAlwaysSyncs(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, gangnam, DriveRadiusMeters).Return(found, nil)

	s, q, synced := newTestSync(t, finder)
	s.Begin(1)

	// Well under the threshold, still the first position of the drive
	assert.True(t, s.Observe(1, gangnam, 0.1))
	assert.True(t, s.InFlight())
	q.runNext(t)

	assert.False(t, s.InFlight())
	assert.Equal(t, []Result{found}, *synced)
	finder.AssertNumberOfCalls(t, "Nearest", 1)
}

func TestSync_ThresholdBoundary(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, mock.Anything, DriveRadiusMeters).Return(found, nil)

	s, q, _ := newTestSync(t, finder)
	s.Begin(1)

	require.True(t, s.Observe(1, gangnam, 0))
	q.runNext(t)

	assert.False(t, s.Observe(1, gangnam, 4.0))
	assert.False(t, s.Observe(1, gangnam, 8.0), "exactly 8 m must not trigger")
	assert.True(t, s.Observe(1, gangnam, 8.0001))
	q.runNext(t)

	assert.False(t, s.Observe(1, gangnam, 16.0001))
	assert.True(t, s.Observe(1, gangnam, 16.0002))
	q.runNext(t)

	finder.AssertNumberOfCalls(t, "Nearest", 3)
}

func TestSync_InFlightGuard(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, mock.Anything, DriveRadiusMeters).Return(found, nil)

	s, q, _ := newTestSync(t, finder)
	s.Begin(1)

	require.True(t, s.Observe(1, gangnam, 0))
	// The vehicle keeps moving while the lookup is outstanding
	for total := 10.0; total < 100; total += 10 {
		assert.False(t, s.Observe(1, gangnam, total))
	}
	q.runNext(t)

	// lastSync was recorded at request time (0 m), so the next position syncs
	assert.True(t, s.Observe(1, gangnam, 100))
	q.runNext(t)
	finder.AssertNumberOfCalls(t, "Nearest", 2)
}

func TestSync_NotFoundIsIgnored(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, mock.Anything, DriveRadiusMeters).Return(Result{}, ErrNotFound).Once()
	finder.On("Nearest", mock.Anything, mock.Anything, DriveRadiusMeters).Return(Result{}, errors.New("connection reset")).Once()

	s, q, synced := newTestSync(t, finder)
	s.Begin(1)

	require.True(t, s.Observe(1, gangnam, 0))
	q.runNext(t)
	assert.False(t, s.InFlight())

	require.True(t, s.Observe(1, gangnam, 9))
	q.runNext(t)
	assert.False(t, s.InFlight())

	assert.Empty(t, *synced)
}

func TestSync_StaleResultDiscarded(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, mock.Anything, DriveRadiusMeters).Return(found, nil)

	s, q, synced := newTestSync(t, finder)
	s.Begin(1)
	require.True(t, s.Observe(1, gangnam, 0))

	t.Run("after end", func(t *testing.T) {
		s.End()
		q.runNext(t)
		assert.Empty(t, *synced)
		assert.False(t, s.Observe(1, gangnam, 50), "no lookups without an active drive")
	})

	t.Run("after restart", func(t *testing.T) {
		s.Begin(2)
		require.True(t, s.Observe(2, gangnam, 0))
		s.Begin(3)
		q.runNext(t)

		assert.Empty(t, *synced)
		assert.False(t, s.InFlight(), "a stale completion releases the slot")
		assert.False(t, s.Observe(2, gangnam, 100), "positions from an old drive are ignored")
	})
}

// blockingFinder holds every lookup until release is closed
type blockingFinder struct {
	calls   chan geo.Point
	release chan struct{}
}

func (f *blockingFinder) Nearest(ctx context.Context, point geo.Point, _ int) (Result, error) {
	f.calls <- point
	<-f.release
	return found, nil
}

func TestSync_RestartWaitsForOutstandingLookup(t *testing.T) {
	finder := &blockingFinder{calls: make(chan geo.Point, 4), release: make(chan struct{})}
	s, q, synced := newTestSync(t, finder)

	s.Begin(1)
	require.True(t, s.Observe(1, gangnam, 0))
	<-finder.calls

	// Stop and start again while the first lookup is still running
	s.End()
	s.Begin(3)
	assert.True(t, s.InFlight())
	assert.False(t, s.Observe(3, gangnam, 0), "only one lookup may be outstanding")
	assert.False(t, s.Observe(3, gangnam, 20))
	assert.Empty(t, finder.calls)

	close(finder.release)
	q.runNext(t)
	assert.False(t, s.InFlight())
	assert.Empty(t, *synced, "the old drive's result is dropped")

	// The new drive's first lookup goes out once the slot is free
	assert.True(t, s.Observe(3, gangnam, 25))
	<-finder.calls
	q.runNext(t)
	assert.Equal(t, []Result{found}, *synced)
}

func TestSync_RequestNearestReportsNotFound(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, gangnam, PickRadiusMeters).Return(Result{Found: false}, nil)

	s, q, _ := newTestSync(t, finder)

	var gotErr error
	s.RequestNearest(context.Background(), gangnam, PickRadiusMeters, func(_ Result, err error) {
		gotErr = err
	})
	q.runNext(t)

	assert.ErrorIs(t, gotErr, ErrNotFound)
}

func TestSync_Options(t *testing.T) {
	finder := &MockFinder{}
	finder.On("Nearest", mock.Anything, gangnam, 100).Return(found, nil)

	s, q, _ := newTestSync(t, finder)
	WithThreshold(20)(s)
	WithRadius(100)(s)
	s.Begin(7)

	require.True(t, s.Observe(7, gangnam, 0))
	q.runNext(t)
	assert.False(t, s.Observe(7, gangnam, 20))
	assert.True(t, s.Observe(7, gangnam, 20.5))
	q.runNext(t)
}
