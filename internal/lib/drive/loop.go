package drive

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// ErrLoopClosed is returned when work is submitted to a loop that has stopped
var ErrLoopClosed = errors.New("drive loop closed")

// Loop is a serial executor that plays the role of a UI main thread. Frames,
// panorama completions and host commands all run on it one at a time, so the
// simulator and view state it touches need no locking.
type Loop struct {
	tasks  chan func()
	done   chan struct{}
	once   sync.Once
	logger *zap.Logger
}

// NewLoop creates a loop with room for buffer queued tasks
func NewLoop(buffer int, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run executes queued tasks until ctx is canceled or Close is called
func (l *Loop) Run(ctx context.Context) {
	defer l.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.done:
			return
		case task := <-l.tasks:
			l.execute(task)
		}
	}
}

func (l *Loop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("drive loop: recovered from panic",
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	task()
}

// Post queues fn without waiting for it to run. It reports false once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.tasks <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call runs fn on the loop and waits for it to finish. It must not be called from
// a loop task, which would deadlock.
//
// If ctx ends or the loop stops before fn starts, fn is skipped and the error is
// returned. Once fn has started Call waits for it, so a nil error means fn ran.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	const (
		queued int32 = iota
		started
		abandoned
	)
	var state atomic.Int32
	finished := make(chan struct{})
	if !l.Post(func() {
		if !state.CompareAndSwap(queued, started) {
			return
		}
		defer close(finished)
		fn()
	}) {
		return ErrLoopClosed
	}

	var err error
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		err = ctx.Err()
	case <-l.done:
		err = ErrLoopClosed
	}
	if state.CompareAndSwap(queued, abandoned) {
		return err
	}
	<-finished
	return nil
}

// Close stops the loop. Queued tasks that have not started are dropped.
func (l *Loop) Close() {
	l.once.Do(func() { close(l.done) })
}
