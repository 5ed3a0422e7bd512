package panorama

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
)

// ErrNotFound is returned by a Finder when no panorama exists within the radius
var ErrNotFound = errors.New("no panorama near point")

const (
	// DefaultThresholdMeters is the travel required between two lookups of one drive
	DefaultThresholdMeters = 8.0

	// DriveRadiusMeters is the search radius used while driving
	DriveRadiusMeters = 30

	// PickRadiusMeters is the search radius used for a clicked point
	PickRadiusMeters = 50

	// DefaultLookupTimeout bounds a single lookup
	DefaultLookupTimeout = 5 * time.Second
)

// Result is the outcome of a nearest-panorama lookup
type Result struct {
	Found      bool      `json:"found"`
	PanoramaID string    `json:"panorama_id,omitempty"`
	Point      geo.Point `json:"point"`
}

// Finder looks up the panorama closest to a point
type Finder interface {
	Nearest(ctx context.Context, point geo.Point, radiusMeters int) (Result, error)
}

// Dispatcher runs fn on the host's thread. It reports false if the host is gone.
type Dispatcher func(fn func()) bool

// Sync keeps the panorama view in step with a moving vehicle. Lookups are
// throttled by distance travelled, at most one is outstanding at a time, and
// results that arrive after their drive ended are dropped.
//
// Sync is confined to the dispatcher's thread, except for the lookups
// themselves which run on their own goroutines.
type Sync struct {
	finder    Finder
	dispatch  Dispatcher
	onSynced  func(Result)
	logger    *zap.Logger
	threshold float64
	radius    int
	timeout   time.Duration

	epoch    uint64
	active   bool
	inFlight bool
	synced   bool
	lastSync float64
}

// SyncOption configures a Sync
type SyncOption func(*Sync)

// WithThreshold overrides DefaultThresholdMeters
func WithThreshold(meters float64) SyncOption {
	return func(s *Sync) {
		if meters >= 0 {
			s.threshold = meters
		}
	}
}

// WithRadius overrides DriveRadiusMeters
func WithRadius(meters int) SyncOption {
	return func(s *Sync) {
		if meters > 0 {
			s.radius = meters
		}
	}
}

// WithTimeout overrides DefaultLookupTimeout
func WithTimeout(d time.Duration) SyncOption {
	return func(s *Sync) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) SyncOption {
	return func(s *Sync) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewSync creates a Sync that reports found panoramas to onSynced
func NewSync(finder Finder, dispatch Dispatcher, onSynced func(Result), opts ...SyncOption) *Sync {
	s := &Sync{
		finder:    finder,
		dispatch:  dispatch,
		onSynced:  onSynced,
		logger:    zap.NewNop(),
		threshold: DefaultThresholdMeters,
		radius:    DriveRadiusMeters,
		timeout:   DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Begin starts tracking the drive identified by epoch. The first position
// observed afterwards always triggers a lookup.
func (s *Sync) Begin(epoch uint64) {
	s.epoch = epoch
	s.active = true
	s.synced = false
	s.lastSync = 0
}

// End stops tracking. A lookup still outstanding completes harmlessly, and
// no new one is issued until it does.
func (s *Sync) End() {
	s.active = false
}

// Active reports whether a drive is being tracked
func (s *Sync) Active() bool {
	return s.active
}

// InFlight reports whether a drive lookup is outstanding, including one issued
// for a drive that has since ended
func (s *Sync) InFlight() bool {
	return s.inFlight
}

// Observe is called with every position of the drive. It issues a lookup when
// none is outstanding and the vehicle moved more than the threshold since the
// last one. It reports whether a lookup was issued.
func (s *Sync) Observe(epoch uint64, point geo.Point, totalMeters float64) bool {
	if !s.active || epoch != s.epoch || s.inFlight {
		return false
	}
	if s.synced && totalMeters-s.lastSync <= s.threshold {
		return false
	}

	// Recorded at request time so a slow lookup does not retrigger
	s.inFlight = true
	s.synced = true
	s.lastSync = totalMeters

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	s.RequestNearest(ctx, point, s.radius, func(res Result, err error) {
		cancel()
		s.complete(epoch, res, err)
	})
	return true
}

func (s *Sync) complete(epoch uint64, res Result, err error) {
	s.inFlight = false
	if !s.active || s.epoch != epoch {
		s.logger.Debug("panorama: discarding stale result", zap.Uint64("epoch", epoch))
		return
	}

	if err != nil || !res.Found {
		// The previous panorama stays on screen
		if err != nil && !errors.Is(err, ErrNotFound) {
			s.logger.Debug("panorama: lookup failed", zap.Error(err))
		}
		return
	}
	if s.onSynced != nil {
		s.onSynced(res)
	}
}

// RequestNearest looks up the panorama nearest to point without blocking the
// caller. done runs on the dispatcher's thread. If the dispatcher is gone the
// result is dropped.
func (s *Sync) RequestNearest(ctx context.Context, point geo.Point, radiusMeters int, done func(Result, error)) {
	go func() {
		res, err := s.finder.Nearest(ctx, point, radiusMeters)
		if err == nil && !res.Found {
			err = ErrNotFound
		}
		if !s.dispatch(func() { done(res, err) }) {
			s.logger.Debug("panorama: dispatcher closed, dropping result")
		}
	}()
}
