package view

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
)

const frame = time.Second / 60

type MockFinder struct {
	mock.Mock
}

func (m *MockFinder) Nearest(ctx context.Context, point geo.Point, radiusMeters int) (panorama.Result, error) {
	args := m.Called(ctx, point, radiusMeters)
	return args.Get(0).(panorama.Result), args.Error(1)
}

type fakeGeocoder struct{ address string }

func (g fakeGeocoder) AddressForPoint(_ context.Context, _ geo.Point) string {
	return g.address
}

type fakeHandles struct {
	markers   []geo.Point
	pans      int
	hidden    int
	panoramas []panorama.Result
	roadview  []bool
	overlay   []bool
	notices   []string
	locations []string
}

func (h *fakeHandles) MoveMarker(p geo.Point)                { h.markers = append(h.markers, p) }
func (h *fakeHandles) HideMarker()                           { h.hidden++ }
func (h *fakeHandles) PanTo(geo.Point)                       { h.pans++ }
func (h *fakeHandles) ShowPanorama(res panorama.Result)      { h.panoramas = append(h.panoramas, res) }
func (h *fakeHandles) SetRoadviewOpen(open bool)             { h.roadview = append(h.roadview, open) }
func (h *fakeHandles) SetRoadviewOverlay(on bool)            { h.overlay = append(h.overlay, on) }
func (h *fakeHandles) Notice(msg string)                     { h.notices = append(h.notices, msg) }
func (h *fakeHandles) ShowLocation(_ geo.Point, addr string) { h.locations = append(h.locations, addr) }

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
		t.Fatal("nothing dispatched")
	}
}

type fixture struct {
	coord   *Coordinator
	sim     *drive.Simulator
	sched   *drive.ManualScheduler
	handles *fakeHandles
	finder  *MockFinder
	q       queue
	stops   []uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched:   drive.NewManualScheduler(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)),
		handles: &fakeHandles{},
		finder:  &MockFinder{},
		q:       make(queue, 64),
	}
	f.sim = drive.NewSimulator(f.sched, drive.NewSpeed(drive.DefaultSpeedKmH))
	f.coord = NewCoordinator(f.sim, f.finder, fakeGeocoder{address: "서울특별시 강남구 역삼동 858"}, f.handles, f.q.dispatch,
		WithStopHandler(func(epoch uint64) { f.stops = append(f.stops, epoch) }),
	)
	return f
}

var route = geo.Path{
	{Latitude: 37.4979, Longitude: 127.0276},
	{Latitude: 37.4985, Longitude: 127.0276},
	{Latitude: 37.4985, Longitude: 127.0284},
}

func TestCoordinator_StartForcesRoadviewOpen(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.StartDrive(route, 50)
	require.NoError(t, err)

	st := f.coord.Status()
	assert.True(t, st.Driving)
	assert.True(t, st.RoadviewOpen)
	assert.True(t, st.PickMode)
	assert.Equal(t, []bool{true}, f.handles.roadview)
	assert.Equal(t, []bool{true}, f.handles.overlay)
	assert.Equal(t, []geo.Point{route[0]}, f.handles.markers)
}

func TestCoordinator_StartRejectsShortPath(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.StartDrive(route[:1], 50)
	assert.ErrorIs(t, err, drive.ErrPathTooShort)
	assert.False(t, f.coord.Status().Driving)
	assert.Empty(t, f.handles.roadview)
}

func TestCoordinator_PositionsMoveMarkerAndSync(t *testing.T) {
	f := newFixture(t)
	pano := panorama.Result{Found: true, PanoramaID: "pano-7"}
	f.finder.On("Nearest", mock.Anything, mock.Anything, panorama.DriveRadiusMeters).Return(pano, nil)

	_, err := f.coord.StartDrive(route, 50)
	require.NoError(t, err)

	f.sched.Advance(frame)
	assert.Len(t, f.handles.markers, 2)
	assert.Equal(t, 2, f.handles.pans)

	// First position triggers a lookup; the drive keeps going meanwhile
	f.sched.Advance(frame)
	f.sched.Advance(frame)
	f.q.runNext(t)
	assert.Equal(t, []panorama.Result{pano}, f.handles.panoramas)
	f.finder.AssertNumberOfCalls(t, "Nearest", 1)
}

func TestCoordinator_CompletionSignalsStopOnce(t *testing.T) {
	f := newFixture(t)
	f.finder.On("Nearest", mock.Anything, mock.Anything, mock.Anything).Return(panorama.Result{}, panorama.ErrNotFound)

	epoch, err := f.coord.StartDrive(route, 100)
	require.NoError(t, err)

	f.sched.RunUntilIdle(frame, 100000)

	assert.Equal(t, []uint64{epoch}, f.stops)
	assert.False(t, f.coord.Status().Driving)
	assert.Equal(t, drive.Idle, f.sim.Status())
	assert.Equal(t, route[len(route)-1], f.handles.markers[len(f.handles.markers)-1])

	// A second completion for the same drive is ignored
	f.coord.OnCompleted(epoch)
	assert.Len(t, f.stops, 1)
}

func TestCoordinator_LatePanoramaAfterStop(t *testing.T) {
	f := newFixture(t)
	f.finder.On("Nearest", mock.Anything, mock.Anything, panorama.DriveRadiusMeters).
		Return(panorama.Result{Found: true, PanoramaID: "late"}, nil)

	_, err := f.coord.StartDrive(route, 50)
	require.NoError(t, err)
	f.sched.Advance(frame) // issues the first lookup

	f.coord.CloseRoadview()
	assert.False(t, f.coord.Status().Driving)
	assert.False(t, f.coord.Status().RoadviewOpen)

	markers := len(f.handles.markers)
	roadview := len(f.handles.roadview)

	f.q.runNext(t) // the lookup completes after the stop

	assert.Empty(t, f.handles.panoramas)
	assert.Len(t, f.handles.markers, markers, "marker must not move")
	assert.Len(t, f.handles.roadview, roadview, "roadview must not reopen")
	assert.False(t, f.coord.Status().RoadviewOpen)
	assert.Equal(t, drive.Idle, f.sim.Status())
	assert.Equal(t, 0, f.sched.Advance(frame))
}

func TestCoordinator_ToggleRoadviewStopsDrive(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.StartDrive(route, 50)
	require.NoError(t, err)

	st := f.coord.ToggleRoadviewMode()
	assert.False(t, st.Driving)
	assert.False(t, st.PickMode)
	assert.False(t, st.RoadviewOpen)
	assert.Equal(t, 1, f.handles.hidden)
	assert.Equal(t, drive.Idle, f.sim.Status())
	assert.Empty(t, f.stops, "a host-initiated stop is not a completion")

	st = f.coord.ToggleRoadviewMode()
	assert.True(t, st.PickMode)
	assert.False(t, st.RoadviewOpen)
}

func TestCoordinator_StopIsIdempotent(t *testing.T) {
	f := newFixture(t)

	assert.False(t, f.coord.StopDrive())
	assert.False(t, f.coord.StopDrive())

	_, err := f.coord.StartDrive(route, 50)
	require.NoError(t, err)
	assert.True(t, f.coord.StopDrive())
	assert.False(t, f.coord.StopDrive())
}

func TestCoordinator_MapClick(t *testing.T) {
	clicked := geo.Point{Latitude: 37.5665, Longitude: 126.9780}

	t.Run("geocodes outside pick mode", func(t *testing.T) {
		f := newFixture(t)
		assert.True(t, f.coord.HandleMapClick(clicked))
		f.q.runNext(t)
		assert.Equal(t, []string{"서울특별시 강남구 역삼동 858"}, f.handles.locations)
	})

	t.Run("pick mode opens roadview", func(t *testing.T) {
		f := newFixture(t)
		f.finder.On("Nearest", mock.Anything, clicked, panorama.PickRadiusMeters).
			Return(panorama.Result{Found: true, PanoramaID: "pick"}, nil)
		f.coord.ToggleRoadviewMode()

		assert.True(t, f.coord.HandleMapClick(clicked))
		f.q.runNext(t)

		assert.True(t, f.coord.Status().RoadviewOpen)
		require.Len(t, f.handles.panoramas, 1)
		assert.Equal(t, clicked, f.handles.panoramas[0].Point)
		assert.Equal(t, []geo.Point{clicked}, f.handles.markers)
	})

	t.Run("pick mode without panorama notices", func(t *testing.T) {
		f := newFixture(t)
		f.finder.On("Nearest", mock.Anything, clicked, panorama.PickRadiusMeters).
			Return(panorama.Result{}, panorama.ErrNotFound)
		f.coord.ToggleRoadviewMode()

		f.coord.HandleMapClick(clicked)
		f.q.runNext(t)

		assert.Equal(t, []string{NoRoadviewNotice}, f.handles.notices)
		assert.False(t, f.coord.Status().RoadviewOpen)
	})

	t.Run("pick mode lookup has a deadline", func(t *testing.T) {
		f := newFixture(t)
		WithLookupTimeout(2 * time.Second)(f.coord)
		deadlines := make(chan time.Time, 1)
		f.finder.On("Nearest", mock.Anything, clicked, panorama.PickRadiusMeters).
			Run(func(args mock.Arguments) {
				d, ok := args.Get(0).(context.Context).Deadline()
				assert.True(t, ok)
				deadlines <- d
			}).
			Return(panorama.Result{Found: true, PanoramaID: "pick"}, nil)
		f.coord.ToggleRoadviewMode()

		issued := time.Now()
		f.coord.HandleMapClick(clicked)
		f.q.runNext(t)

		d := <-deadlines
		assert.WithinDuration(t, issued.Add(2*time.Second), d, time.Second)
	})

	t.Run("ignored while driving", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.coord.StartDrive(route, 50)
		require.NoError(t, err)

		assert.False(t, f.coord.HandleMapClick(clicked))
	})
}
