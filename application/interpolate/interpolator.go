// Package interpolate smooths sparse pointer samples into a per-frame
// position stream using a damped spring and a short velocity lead.
package interpolate

import (
	"math"
	"sync"
	"time"

	"proofcanvas/domain/canvas"
	"proofcanvas/pkg/frame"
)

// Options tunes the spring and the prediction. Zero fields take defaults.
type Options struct {
	Stiffness    float64
	Damping      float64
	LeadTime     time.Duration
	MaxLead      float64
	MinStep      time.Duration
	MaxStep      time.Duration
	RestDistance float64
	RestSpeed    float64
	// Now stamps samples pushed without an explicit time.
	Now func() time.Time
}

// DefaultOptions returns the tuned defaults
func DefaultOptions() Options {
	return Options{
		Stiffness:    430,
		Damping:      36,
		LeadTime:     12 * time.Millisecond,
		MaxLead:      14,
		MinStep:      time.Second / 240,
		MaxStep:      time.Second / 30,
		RestDistance: 0.12,
		RestSpeed:    6,
		Now:          time.Now,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Stiffness <= 0 {
		o.Stiffness = def.Stiffness
	}
	if o.Damping <= 0 {
		o.Damping = def.Damping
	}
	if o.LeadTime < 0 {
		o.LeadTime = 0
	} else if o.LeadTime == 0 {
		o.LeadTime = def.LeadTime
	}
	if o.MaxLead <= 0 {
		o.MaxLead = def.MaxLead
	}
	if o.MinStep <= 0 {
		o.MinStep = def.MinStep
	}
	if o.MaxStep <= 0 {
		o.MaxStep = def.MaxStep
	}
	if o.RestDistance <= 0 {
		o.RestDistance = def.RestDistance
	}
	if o.RestSpeed <= 0 {
		o.RestSpeed = def.RestSpeed
	}
	if o.Now == nil {
		o.Now = def.Now
	}
	return o
}

// Interpolator animates one tracked point. Safe for concurrent use; emit is
// always called outside the internal lock.
type Interpolator struct {
	mu        sync.Mutex
	opts      Options
	scheduler frame.Scheduler
	emit      func(p canvas.Point)

	pos    canvas.Point
	vel    canvas.Point
	target canvas.Point

	hasSample  bool
	lastSample canvas.Point
	lastAt     time.Time
	lastFrame  time.Time

	handle   frame.Handle
	disposed bool
}

// New creates an interpolator that reports positions through emit
func New(scheduler frame.Scheduler, emit func(p canvas.Point), opts Options) *Interpolator {
	if emit == nil {
		emit = func(canvas.Point) {}
	}
	return &Interpolator{
		opts:      opts.withDefaults(),
		scheduler: scheduler,
		emit:      emit,
	}
}

// Push feeds a sample stamped with the current time
func (i *Interpolator) Push(p canvas.Point) {
	i.PushAt(p, i.opts.Now())
}

// PushAt feeds a sample taken at the given time. The first sample snaps;
// later ones retarget the spring to the sample plus a clamped lead along the
// sample velocity.
func (i *Interpolator) PushAt(p canvas.Point, at time.Time) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}

	if !i.hasSample {
		i.hasSample = true
		i.lastSample, i.lastAt = p, at
		i.pos, i.target, i.vel = p, p, canvas.Point{}
		emit := i.emit
		i.mu.Unlock()
		emit(p)
		return
	}

	i.target = p.Add(i.lead(p, at))
	i.lastSample, i.lastAt = p, at

	if i.handle == 0 {
		i.lastFrame = time.Time{}
		i.handle = i.scheduler.RequestFrame(i.step)
	}
	i.mu.Unlock()
}

// lead projects LeadTime along the velocity since the previous sample,
// clamped to MaxLead.
func (i *Interpolator) lead(p canvas.Point, at time.Time) canvas.Point {
	dt := at.Sub(i.lastAt).Seconds()
	if dt <= 0 {
		return canvas.Point{}
	}
	velocity := p.Sub(i.lastSample).Scale(1 / dt)
	lead := velocity.Scale(i.opts.LeadTime.Seconds())
	if l := lead.Len(); l > i.opts.MaxLead {
		lead = lead.Scale(i.opts.MaxLead / l)
	}
	return lead
}

func (i *Interpolator) step(now time.Time) {
	i.mu.Lock()
	if i.disposed {
		i.mu.Unlock()
		return
	}
	i.handle = 0

	dt := i.clampStep(now)
	i.lastFrame = now

	k, d := i.opts.Stiffness, i.opts.Damping
	err := i.target.Sub(i.pos)
	i.vel = i.vel.Add(err.Scale(k).Sub(i.vel.Scale(d)).Scale(dt))
	i.pos = i.pos.Add(i.vel.Scale(dt))

	if i.target.Sub(i.pos).Len() < i.opts.RestDistance && i.vel.Len() < i.opts.RestSpeed {
		i.pos = i.target
		i.vel = canvas.Point{}
	} else {
		i.handle = i.scheduler.RequestFrame(i.step)
	}

	pos, emit := i.pos, i.emit
	i.mu.Unlock()
	emit(pos)
}

func (i *Interpolator) clampStep(now time.Time) float64 {
	min, max := i.opts.MinStep.Seconds(), i.opts.MaxStep.Seconds()
	if i.lastFrame.IsZero() {
		return math.Max(min, math.Min(max, 1.0/60))
	}
	return math.Max(min, math.Min(max, now.Sub(i.lastFrame).Seconds()))
}

// Position returns the current animated position
func (i *Interpolator) Position() canvas.Point {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.pos
}

// Velocity returns the current animated velocity in units per second
func (i *Interpolator) Velocity() canvas.Point {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.vel
}

// Target returns the current spring target
func (i *Interpolator) Target() canvas.Point {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.target
}

// Animating reports whether a frame is scheduled
func (i *Interpolator) Animating() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.handle != 0
}

// Reset forgets all samples so the next one snaps again
func (i *Interpolator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.cancelLocked()
	i.hasSample = false
	i.pos, i.vel, i.target = canvas.Point{}, canvas.Point{}, canvas.Point{}
}

// Dispose halts the animation and clears state. Idempotent; later pushes
// and already-queued frames are ignored.
func (i *Interpolator) Dispose() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.disposed {
		return
	}
	i.cancelLocked()
	i.disposed = true
	i.hasSample = false
	i.pos, i.vel, i.target = canvas.Point{}, canvas.Point{}, canvas.Point{}
}

// Disposed reports whether Dispose was called
func (i *Interpolator) Disposed() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.disposed
}

func (i *Interpolator) cancelLocked() {
	if i.handle != 0 {
		i.scheduler.CancelFrame(i.handle)
		i.handle = 0
	}
}
