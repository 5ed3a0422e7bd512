package view

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
)

// NoRoadviewNotice is shown when a clicked point has no panorama nearby
const NoRoadviewNotice = "이 위치에서는 로드뷰를 볼 수 없습니다."

// Handles are the display surfaces the coordinator drives: the primary map,
// the vehicle marker and the roadview pane. They are created once per host
// and only touched from the host thread.
type Handles interface {
	MoveMarker(p geo.Point)
	HideMarker()
	PanTo(p geo.Point)
	ShowPanorama(res panorama.Result)
	SetRoadviewOpen(open bool)
	SetRoadviewOverlay(on bool)
	Notice(msg string)
	ShowLocation(p geo.Point, address string)
}

// Geocoder resolves a point to a display address. It never fails; a
// coordinate string stands in for unknown addresses.
type Geocoder interface {
	AddressForPoint(ctx context.Context, p geo.Point) string
}

// Status is a snapshot of the coordinator's modes
type Status struct {
	Driving      bool   `json:"driving"`
	RoadviewOpen bool   `json:"roadview_open"`
	PickMode     bool   `json:"pick_mode"`
	Epoch        uint64 `json:"epoch"`
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStopHandler registers the host's stop contract. It runs once when a
// drive ends on its own.
func WithStopHandler(fn func(epoch uint64)) Option {
	return func(c *Coordinator) { c.onStop = fn }
}

// WithPositionObserver registers fn to see every accepted position
func WithPositionObserver(fn func(drive.Position)) Option {
	return func(c *Coordinator) { c.observers = append(c.observers, fn) }
}

// WithGeocodeTimeout bounds reverse geocoding of clicked points
func WithGeocodeTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.geocodeTimeout = d
		}
	}
}

// WithLookupTimeout bounds the panorama lookup for a clicked point
func WithLookupTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.lookupTimeout = d
		}
	}
}

// WithSyncOptions passes options to the panorama sync
func WithSyncOptions(opts ...panorama.SyncOption) Option {
	return func(c *Coordinator) { c.syncOpts = append(c.syncOpts, opts...) }
}

// Coordinator connects the simulator to the display. It moves the marker,
// keeps the panorama in sync and enforces that a drive only runs while the
// roadview pane is open. Like the simulator it is confined to the host thread.
type Coordinator struct {
	sim      *drive.Simulator
	sync     *panorama.Sync
	handles  Handles
	geocoder Geocoder
	dispatch panorama.Dispatcher
	logger   *zap.Logger

	onStop         func(epoch uint64)
	observers      []func(drive.Position)
	syncOpts       []panorama.SyncOption
	geocodeTimeout time.Duration
	lookupTimeout  time.Duration

	driving      bool
	roadviewOpen bool
	pickMode     bool
	epoch        uint64
	stopSignaled bool
	clickSeq     uint64
}

// NewCoordinator wires a coordinator to sim and registers it as the
// simulator's listener. dispatch must run functions on the thread that owns sim.
func NewCoordinator(sim *drive.Simulator, finder panorama.Finder, geocoder Geocoder, handles Handles, dispatch panorama.Dispatcher, opts ...Option) *Coordinator {
	c := &Coordinator{
		sim:            sim,
		handles:        handles,
		geocoder:       geocoder,
		dispatch:       dispatch,
		logger:         zap.NewNop(),
		geocodeTimeout: 5 * time.Second,
		lookupTimeout:  panorama.DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	syncOpts := append([]panorama.SyncOption{panorama.WithLogger(c.logger)}, c.syncOpts...)
	c.sync = panorama.NewSync(finder, dispatch, c.applyPanorama, syncOpts...)
	sim.SetListener(c)
	return c
}

// Status returns the current modes
func (c *Coordinator) Status() Status {
	return Status{
		Driving:      c.driving,
		RoadviewOpen: c.roadviewOpen,
		PickMode:     c.pickMode,
		Epoch:        c.epoch,
	}
}

// StartDrive starts a drive over path. The roadview pane is forced open for
// the duration of the drive.
func (c *Coordinator) StartDrive(path geo.Path, speedKmH float64) (uint64, error) {
	epoch, err := c.sim.Start(path, speedKmH)
	if err != nil {
		return 0, err
	}

	c.driving = true
	c.stopSignaled = false
	c.epoch = epoch

	c.setPickMode(true)
	c.setRoadviewOpen(true)
	c.sync.Begin(epoch)

	c.handles.MoveMarker(path[0])
	c.handles.PanTo(path[0])
	return epoch, nil
}

// StopDrive stops the running drive. It reports whether a drive was running.
// Any panorama lookup still outstanding is discarded when it arrives.
func (c *Coordinator) StopDrive() bool {
	stopped := c.sim.Stop()
	wasDriving := c.driving
	c.driving = false
	c.sync.End()
	if wasDriving {
		c.logger.Debug("drive stopped by host", zap.Uint64("epoch", c.epoch))
	}
	return stopped || wasDriving
}

// OnPosition implements drive.Listener
func (c *Coordinator) OnPosition(pos drive.Position) {
	if !c.driving || pos.Epoch != c.epoch {
		return
	}
	c.handles.MoveMarker(pos.Point)
	c.handles.PanTo(pos.Point)
	c.sync.Observe(pos.Epoch, pos.Point, pos.State.TotalDistanceMeters)
	for _, fn := range c.observers {
		fn(pos)
	}
}

// OnCompleted implements drive.Listener. The host's stop contract runs at
// most once per drive.
func (c *Coordinator) OnCompleted(epoch uint64) {
	if epoch != c.epoch || c.stopSignaled {
		return
	}
	c.stopSignaled = true
	c.driving = false
	c.sync.End()
	c.logger.Debug("drive completed", zap.Uint64("epoch", epoch))
	if c.onStop != nil {
		c.onStop(epoch)
	}
}

// ToggleRoadviewMode flips pick mode. Leaving pick mode closes the roadview
// pane and stops a running drive.
func (c *Coordinator) ToggleRoadviewMode() Status {
	if c.pickMode {
		c.setPickMode(false)
		c.setRoadviewOpen(false)
		c.handles.HideMarker()
		if c.driving {
			c.StopDrive()
		}
	} else {
		c.setPickMode(true)
	}
	return c.Status()
}

// CloseRoadview closes the roadview pane, stopping a running drive
func (c *Coordinator) CloseRoadview() Status {
	c.setRoadviewOpen(false)
	if c.driving {
		c.StopDrive()
	}
	return c.Status()
}

// HandleMapClick reacts to a click on the primary map. Clicks are ignored
// while driving. In pick mode the nearest panorama is shown, otherwise the
// clicked location is reverse geocoded. Both complete asynchronously.
func (c *Coordinator) HandleMapClick(p geo.Point) bool {
	if c.driving {
		return false
	}
	c.clickSeq++
	seq := c.clickSeq

	if c.pickMode {
		ctx, cancel := context.WithTimeout(context.Background(), c.lookupTimeout)
		c.sync.RequestNearest(ctx, p, panorama.PickRadiusMeters, func(res panorama.Result, err error) {
			cancel()
			if c.driving || seq != c.clickSeq {
				return
			}
			if err != nil {
				c.handles.Notice(NoRoadviewNotice)
				return
			}
			res.Point = p
			c.setRoadviewOpen(true)
			c.handles.ShowPanorama(res)
			c.handles.MoveMarker(p)
		})
		return true
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.geocodeTimeout)
		defer cancel()
		address := c.geocoder.AddressForPoint(ctx, p)
		c.dispatch(func() {
			if seq != c.clickSeq {
				return
			}
			c.handles.ShowLocation(p, address)
		})
	}()
	return true
}

func (c *Coordinator) applyPanorama(res panorama.Result) {
	if !c.driving {
		return
	}
	c.handles.ShowPanorama(res)
}

func (c *Coordinator) setRoadviewOpen(open bool) {
	if c.roadviewOpen == open {
		return
	}
	c.roadviewOpen = open
	c.handles.SetRoadviewOpen(open)
}

func (c *Coordinator) setPickMode(on bool) {
	if c.pickMode == on {
		return
	}
	c.pickMode = on
	c.handles.SetRoadviewOverlay(on)
}
