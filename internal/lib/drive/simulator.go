package drive

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// ErrPathTooShort is returned by Start when the path has fewer than two points.
// A rejected start leaves the simulator Idle and emits nothing.
var ErrPathTooShort = errors.New("path must have at least 2 points")

// DefaultMaxFrameGap caps the elapsed time credited to one tick. A host that
// stalls (suspended tab, paused process) resumes where it left off instead of
// jumping ahead.
const DefaultMaxFrameGap = 250 * time.Millisecond

// segmentEpsilon guards the progress ratio against zero-length segments
const segmentEpsilon = 1e-9

// State is the simulator lifecycle state
type State int

const (
	Idle State = iota
	Running
	Completed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// DriveState is the progress of one drive session
type DriveState struct {
	PathIndex           int     `json:"path_index"`
	ProgressMeters      float64 `json:"progress_meters"`
	TotalDistanceMeters float64 `json:"total_distance_meters"`
}

// Position is emitted once per tick while a drive is running
type Position struct {
	Point geo.Point  `json:"point"`
	State DriveState `json:"state"`
	// Epoch identifies the drive session that produced the position
	Epoch uint64 `json:"epoch"`
	Tick  uint64 `json:"tick"`
	// Snapped is set when the point is exactly a path vertex
	Snapped bool `json:"snapped"`
}

// Listener receives simulator output. Callbacks run on the scheduler's thread
// and may call back into the simulator (Stop, Start, SetSpeed).
type Listener interface {
	OnPosition(pos Position)
	OnCompleted(epoch uint64)
}

// Option configures a Simulator
type Option func(*Simulator)

// WithMaxFrameGap overrides DefaultMaxFrameGap
func WithMaxFrameGap(d time.Duration) Option {
	return func(s *Simulator) {
		if d > 0 {
			s.maxFrameGap = d
		}
	}
}

// WithLogger sets the simulator logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Simulator) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Simulator advances a virtual vehicle along a path, one scheduled frame at a
// time. It is confined to the scheduler's thread: Start, Stop and frame
// delivery must not run concurrently. SetSpeed is the exception and may be
// called from any goroutine.
type Simulator struct {
	sched    Scheduler
	speed    *Speed
	listener Listener
	logger   *zap.Logger

	maxFrameGap time.Duration

	status    State
	path      geo.Path
	state     DriveState
	epoch     uint64
	tick      uint64
	lastFrame time.Time
	pending   Frame
}

// NewSimulator creates an idle simulator driven by sched
func NewSimulator(sched Scheduler, speed *Speed, opts ...Option) *Simulator {
	if speed == nil {
		speed = NewSpeed(DefaultSpeedKmH)
	}
	s := &Simulator{
		sched:       sched,
		speed:       speed,
		logger:      zap.NewNop(),
		maxFrameGap: DefaultMaxFrameGap,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetListener registers the receiver of positions and completion events
func (s *Simulator) SetListener(l Listener) {
	s.listener = l
}

// Start begins a drive over path at speedKmH. A running drive is canceled
// first. It returns the epoch identifying the new session.
func (s *Simulator) Start(path geo.Path, speedKmH float64) (uint64, error) {
	if len(path) < 2 {
		return 0, ErrPathTooShort
	}

	if s.status != Idle {
		s.halt()
	}

	s.epoch++
	s.path = append(geo.Path(nil), path...)
	s.state = DriveState{}
	s.tick = 0
	s.status = Running
	s.speed.Set(speedKmH)
	s.lastFrame = s.sched.Now()
	s.pending = s.sched.Schedule(s.frame(s.epoch))

	s.logger.Debug("drive started",
		zap.Uint64("epoch", s.epoch),
		zap.Int("points", len(path)),
		zap.Float64("speed_kmh", s.speed.KmH()),
	)
	return s.epoch, nil
}

// Stop cancels the running drive. The pending frame is canceled before Stop
// returns, so no further events are emitted for the session. Stopping an idle
// simulator is a no-op and reports false.
func (s *Simulator) Stop() bool {
	if s.status == Idle {
		return false
	}
	s.logger.Debug("drive stopped",
		zap.Uint64("epoch", s.epoch),
		zap.Float64("total_distance_m", s.state.TotalDistanceMeters),
	)
	s.halt()
	return true
}

// SetSpeed changes the speed of the running (or next) drive without
// resetting its progress. It returns the clamped value.
func (s *Simulator) SetSpeed(kmh float64) float64 {
	return s.speed.Set(kmh)
}

// Speed returns the live speed setting
func (s *Simulator) Speed() float64 {
	return s.speed.KmH()
}

// Status returns the lifecycle state
func (s *Simulator) Status() State {
	return s.status
}

// Epoch returns the identifier of the current or most recent session
func (s *Simulator) Epoch() uint64 {
	return s.epoch
}

// Snapshot returns the progress of the running drive
func (s *Simulator) Snapshot() DriveState {
	return s.state
}

// halt cancels the pending frame and discards the session. Bumping the epoch
// makes any frame or async result still in flight for the old session stale.
func (s *Simulator) halt() {
	if s.pending != nil {
		s.pending.Cancel()
		s.pending = nil
	}
	s.epoch++
	s.status = Idle
	s.path = nil
	s.state = DriveState{}
}

func (s *Simulator) frame(epoch uint64) func(time.Time) {
	return func(now time.Time) {
		if s.epoch != epoch || s.status != Running {
			return
		}
		s.pending = nil
		s.step(epoch, now)
	}
}

func (s *Simulator) step(epoch uint64, now time.Time) {
	elapsed := now.Sub(s.lastFrame)
	s.lastFrame = now
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > s.maxFrameGap {
		elapsed = s.maxFrameGap
	}

	// Speed is read live so the dial takes effect mid-drive
	distance := s.speed.MetersPerSecond() * elapsed.Seconds()

	p1 := s.path[s.state.PathIndex]
	p2 := s.path[s.state.PathIndex+1]
	segment := geo.DistanceMeters(p1, p2)

	s.state.ProgressMeters += distance
	s.state.TotalDistanceMeters += distance

	var point geo.Point
	snapped := false
	if s.state.ProgressMeters >= segment {
		s.state.PathIndex++
		s.state.ProgressMeters = 0
		point = p2
		snapped = true
	} else {
		point = geo.Interpolate(p1, p2, s.state.ProgressMeters/math.Max(segment, segmentEpsilon))
	}

	s.tick++
	if s.listener != nil {
		s.listener.OnPosition(Position{
			Point:   point,
			State:   s.state,
			Epoch:   epoch,
			Tick:    s.tick,
			Snapped: snapped,
		})
	}

	// The listener may have stopped or restarted the drive
	if s.epoch != epoch || s.status != Running {
		return
	}

	if s.state.PathIndex >= len(s.path)-1 {
		s.complete(epoch)
		return
	}

	s.pending = s.sched.Schedule(s.frame(epoch))
}

func (s *Simulator) complete(epoch uint64) {
	s.status = Completed
	s.logger.Debug("drive completed",
		zap.Uint64("epoch", epoch),
		zap.Uint64("ticks", s.tick),
		zap.Float64("total_distance_m", s.state.TotalDistanceMeters),
	)

	if s.listener != nil {
		s.listener.OnCompleted(epoch)
	}

	// Completed falls back to Idle unless the listener already moved on
	if s.epoch == epoch && s.status == Completed {
		s.halt()
	}
}
