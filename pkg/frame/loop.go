package frame

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultFPS is the frame rate of a Loop created with fps <= 0.
const DefaultFPS = 60

// Loop is a ticker-driven Scheduler. All callbacks run on the loop goroutine,
// which plays the role of the single UI thread.
type Loop struct {
	queue

	interval time.Duration
	logger   *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// NewLoop starts a frame loop ticking at fps frames per second.
func NewLoop(fps int, logger *zap.Logger) *Loop {
	if fps <= 0 {
		fps = DefaultFPS
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	l := &Loop{
		queue:    newQueue(),
		interval: time.Second / time.Duration(fps),
		logger:   logger,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go l.run()
	return l
}

// RequestFrame implements Scheduler. After Stop it returns the zero Handle.
func (l *Loop) RequestFrame(cb Callback) Handle {
	return l.add(cb)
}

// CancelFrame implements Scheduler.
func (l *Loop) CancelFrame(h Handle) {
	l.cancel(h)
}

// Pending returns the number of callbacks waiting for the next frame.
func (l *Loop) Pending() int {
	return l.size()
}

// Stop cancels every outstanding callback and ends the loop. It is idempotent
// and waits for an in-flight frame to finish.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() {
		l.close()
		close(l.stopCh)
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case now := <-ticker.C:
			for _, cb := range l.take() {
				l.invoke(cb, now)
			}
		}
	}
}

func (l *Loop) invoke(cb Callback, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Frame callback panicked", zap.String("panic", fmt.Sprint(r)))
		}
	}()
	cb(now)
}
