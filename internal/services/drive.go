package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/events"
	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
	"github.com/dpup/drive.ersn.net/server/internal/lib/view"
)

// ErrInvalidPath is returned when a path contains out-of-range coordinates
var ErrInvalidPath = errors.New("path contains invalid coordinates")

// DriveOptions tune the drive host
type DriveOptions struct {
	DefaultSpeedKmH     float64
	MaxFrameGap         time.Duration
	SyncThresholdMeters float64
	DriveRadiusMeters   int
	LookupTimeout       time.Duration
}

// Session describes the running drive
type Session struct {
	ID           string    `json:"id"`
	Epoch        uint64    `json:"epoch"`
	StartedAt    time.Time `json:"started_at"`
	Points       int       `json:"points"`
	LengthMeters float64   `json:"length_meters"`
	Summary      string    `json:"summary,omitempty"`
}

// ClickedLocation is the last reverse geocoded map click
type ClickedLocation struct {
	Point   geo.Point `json:"point"`
	Address string    `json:"address"`
}

// ViewState mirrors what a client should be displaying
type ViewState struct {
	Marker       *geo.Point       `json:"marker,omitempty"`
	Center       *geo.Point       `json:"center,omitempty"`
	Panorama     *panorama.Result `json:"panorama,omitempty"`
	RoadviewOpen bool             `json:"roadview_open"`
	Overlay      bool             `json:"overlay"`
	Location     *ClickedLocation `json:"location,omitempty"`
}

// DriveSnapshot is the observable state of the drive host
type DriveSnapshot struct {
	Status   string           `json:"status"`
	Session  *Session         `json:"session,omitempty"`
	SpeedKmH float64          `json:"speed_kmh"`
	Progress drive.DriveState `json:"progress"`
	View     ViewState        `json:"view"`
}

// PositionEvent is broadcast for every simulated position
type PositionEvent struct {
	SessionID string           `json:"session_id"`
	Epoch     uint64           `json:"epoch"`
	Tick      uint64           `json:"tick"`
	Point     geo.Point        `json:"point"`
	Progress  drive.DriveState `json:"progress"`
	SpeedKmH  float64          `json:"speed_kmh"`
}

// DriveService hosts the single drive simulation of this server. All
// simulator and view state lives on the drive loop; exported methods hop
// onto it and wait for the result.
type DriveService struct {
	loop      *drive.Loop
	sim       *drive.Simulator
	coord     *view.Coordinator
	speed     *drive.Speed
	hub       *events.Hub
	telemetry events.PositionPublisher
	routes    *RouteService
	logger    *zap.Logger
	now       func() time.Time

	// loop-confined
	session *Session
	view    ViewState
}

// NewDriveService wires the simulator, coordinator and panorama sync onto loop.
// sched must deliver frames on loop.
func NewDriveService(
	loop *drive.Loop,
	sched drive.Scheduler,
	finder panorama.Finder,
	geocoder view.Geocoder,
	routes *RouteService,
	hub *events.Hub,
	telemetry events.PositionPublisher,
	opts DriveOptions,
	logger *zap.Logger,
) *DriveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if telemetry == nil {
		telemetry = events.NopPublisher{}
	}
	if opts.DefaultSpeedKmH == 0 {
		opts.DefaultSpeedKmH = drive.DefaultSpeedKmH
	}

	s := &DriveService{
		loop:      loop,
		speed:     drive.NewSpeed(opts.DefaultSpeedKmH),
		hub:       hub,
		telemetry: telemetry,
		routes:    routes,
		logger:    logger,
		now:       time.Now,
	}

	s.sim = drive.NewSimulator(sched, s.speed,
		drive.WithMaxFrameGap(opts.MaxFrameGap),
		drive.WithLogger(logger.Named("simulator")),
	)

	syncOpts := []panorama.SyncOption{}
	if opts.SyncThresholdMeters > 0 {
		syncOpts = append(syncOpts, panorama.WithThreshold(opts.SyncThresholdMeters))
	}
	if opts.DriveRadiusMeters > 0 {
		syncOpts = append(syncOpts, panorama.WithRadius(opts.DriveRadiusMeters))
	}
	if opts.LookupTimeout > 0 {
		syncOpts = append(syncOpts, panorama.WithTimeout(opts.LookupTimeout))
	}

	s.coord = view.NewCoordinator(s.sim, finder, geocoder, &hostView{s: s}, loop.Post,
		view.WithLogger(logger.Named("view")),
		view.WithLookupTimeout(opts.LookupTimeout),
		view.WithStopHandler(s.onCompleted),
		view.WithPositionObserver(s.onPosition),
		view.WithSyncOptions(syncOpts...),
	)
	return s
}

// Run processes drive work until ctx is canceled
func (s *DriveService) Run(ctx context.Context) {
	s.loop.Run(ctx)
}

// Close stops the drive loop and ends all subscriptions
func (s *DriveService) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = s.Stop(ctx)
	s.loop.Close()
	s.hub.Close()
}

// Subscribe returns a live feed of drive events
func (s *DriveService) Subscribe() (<-chan events.Event, func()) {
	return s.hub.Subscribe()
}

// Start begins a drive over path. speedKmH <= 0 keeps the current speed.
// A running drive is replaced.
func (s *DriveService) Start(ctx context.Context, path geo.Path, speedKmH float64) (*Session, error) {
	for _, p := range path {
		if !p.Valid() {
			return nil, ErrInvalidPath
		}
	}
	if speedKmH <= 0 {
		speedKmH = s.speed.KmH()
	}

	var (
		session *Session
		err     error
	)
	if callErr := s.loop.Call(ctx, func() {
		session, err = s.start(path, speedKmH, "")
	}); callErr != nil {
		return nil, callErr
	}
	return session, err
}

// StartRoute resolves a route between two points and drives it
func (s *DriveService) StartRoute(ctx context.Context, origin, destination geo.Point, speedKmH float64) (*Session, *Route, error) {
	if s.routes == nil {
		return nil, nil, ErrNoRoute
	}
	route, err := s.routes.GetRoute(ctx, origin, destination)
	if err != nil {
		return nil, nil, err
	}
	if speedKmH <= 0 {
		speedKmH = s.speed.KmH()
	}

	var session *Session
	if callErr := s.loop.Call(ctx, func() {
		session, err = s.start(route.Path, speedKmH, route.Summary)
	}); callErr != nil {
		return nil, nil, callErr
	}
	return session, route, err
}

func (s *DriveService) start(path geo.Path, speedKmH float64, summary string) (*Session, error) {
	epoch, err := s.coord.StartDrive(path, speedKmH)
	if err != nil {
		return nil, err
	}
	s.endSession("replaced")

	s.session = &Session{
		ID:           uuid.NewString(),
		Epoch:        epoch,
		StartedAt:    s.now(),
		Points:       len(path),
		LengthMeters: geo.PathLength(path),
		Summary:      summary,
	}
	s.view.Panorama = nil
	s.view.Location = nil

	s.logger.Info("drive started",
		zap.String("session_id", s.session.ID),
		zap.Int("points", len(path)),
		zap.Float64("length_m", s.session.LengthMeters),
		zap.Float64("speed_kmh", s.speed.KmH()),
	)
	started := *s.session
	s.hub.Publish(events.TypeStarted, started)
	return &started, nil
}

// Stop stops the running drive. It reports whether a drive was running.
func (s *DriveService) Stop(ctx context.Context) (bool, error) {
	var stopped bool
	err := s.loop.Call(ctx, func() {
		stopped = s.coord.StopDrive()
		s.endSession("stopped")
	})
	return stopped, err
}

// SetSpeed changes the speed of the running or next drive and returns the
// clamped value. It does not wait for the drive loop.
func (s *DriveService) SetSpeed(kmh float64) float64 {
	v := s.sim.SetSpeed(kmh)
	s.hub.Publish(events.TypeSpeed, map[string]float64{"speed_kmh": v})
	return v
}

// Snapshot returns the current drive and view state
func (s *DriveService) Snapshot(ctx context.Context) (*DriveSnapshot, error) {
	var snap DriveSnapshot
	err := s.loop.Call(ctx, func() {
		snap = DriveSnapshot{
			Status:   s.sim.Status().String(),
			SpeedKmH: s.speed.KmH(),
			Progress: s.sim.Snapshot(),
			View:     s.view,
		}
		if s.session != nil {
			session := *s.session
			snap.Session = &session
		}
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ToggleRoadview flips roadview pick mode. Leaving it stops a running drive.
func (s *DriveService) ToggleRoadview(ctx context.Context) (view.Status, error) {
	var st view.Status
	err := s.loop.Call(ctx, func() {
		st = s.coord.ToggleRoadviewMode()
		s.syncSession(st)
	})
	return st, err
}

// CloseRoadview closes the roadview pane, stopping a running drive
func (s *DriveService) CloseRoadview(ctx context.Context) (view.Status, error) {
	var st view.Status
	err := s.loop.Call(ctx, func() {
		st = s.coord.CloseRoadview()
		s.syncSession(st)
	})
	return st, err
}

// MapClick forwards a map click. Results arrive as events. It reports false
// when the click was ignored because a drive is running.
func (s *DriveService) MapClick(ctx context.Context, p geo.Point) (bool, error) {
	if !p.Valid() {
		return false, fmt.Errorf("invalid point %s", p)
	}
	var accepted bool
	err := s.loop.Call(ctx, func() {
		accepted = s.coord.HandleMapClick(p)
	})
	return accepted, err
}

func (s *DriveService) syncSession(st view.Status) {
	if !st.Driving {
		s.endSession("roadview closed")
	}
}

func (s *DriveService) endSession(reason string) {
	if s.session == nil {
		return
	}
	s.logger.Info("drive ended", zap.String("session_id", s.session.ID), zap.String("reason", reason))
	s.hub.Publish(events.TypeStopped, map[string]any{"session_id": s.session.ID, "reason": reason})
	s.session = nil
}

func (s *DriveService) onPosition(pos drive.Position) {
	if s.session == nil {
		return
	}
	speed := s.speed.KmH()
	s.hub.Publish(events.TypePosition, PositionEvent{
		SessionID: s.session.ID,
		Epoch:     pos.Epoch,
		Tick:      pos.Tick,
		Point:     pos.Point,
		Progress:  pos.State,
		SpeedKmH:  speed,
	})
	s.telemetry.Publish(events.PositionRecord{
		SessionID:           s.session.ID,
		Epoch:               pos.Epoch,
		Tick:                pos.Tick,
		Point:               pos.Point,
		PathIndex:           pos.State.PathIndex,
		TotalDistanceMeters: pos.State.TotalDistanceMeters,
		SpeedKmH:            speed,
		Timestamp:           s.now(),
	})
}

func (s *DriveService) onCompleted(epoch uint64) {
	if s.session == nil || s.session.Epoch != epoch {
		return
	}
	session := s.session
	s.logger.Info("drive completed", zap.String("session_id", session.ID))

	var last geo.Point
	if s.view.Marker != nil {
		last = *s.view.Marker
	}
	s.telemetry.Publish(events.PositionRecord{
		SessionID: session.ID,
		Epoch:     epoch,
		Point:     last,
		SpeedKmH:  s.speed.KmH(),
		Completed: true,
		Timestamp: s.now(),
	})
	s.hub.Publish(events.TypeCompleted, map[string]any{"session_id": session.ID, "epoch": epoch})
	s.session = nil
}

// hostView implements view.Handles by recording the view state and
// broadcasting changes to subscribers. It runs on the drive loop.
type hostView struct {
	s *DriveService
}

func (h *hostView) MoveMarker(p geo.Point) {
	h.s.view.Marker = &p
}

func (h *hostView) HideMarker() {
	h.s.view.Marker = nil
}

func (h *hostView) PanTo(p geo.Point) {
	h.s.view.Center = &p
}

func (h *hostView) ShowPanorama(res panorama.Result) {
	h.s.view.Panorama = &res
	h.s.hub.Publish(events.TypePanorama, res)
}

func (h *hostView) SetRoadviewOpen(open bool) {
	h.s.view.RoadviewOpen = open
	h.s.hub.Publish(events.TypeRoadview, map[string]bool{"open": open})
}

func (h *hostView) SetRoadviewOverlay(on bool) {
	h.s.view.Overlay = on
	h.s.hub.Publish(events.TypeOverlay, map[string]bool{"on": on})
}

func (h *hostView) Notice(msg string) {
	h.s.hub.Publish(events.TypeNotice, map[string]string{"message": msg})
}

func (h *hostView) ShowLocation(p geo.Point, address string) {
	loc := ClickedLocation{Point: p, Address: address}
	h.s.view.Location = &loc
	h.s.hub.Publish(events.TypeLocation, loc)
}
