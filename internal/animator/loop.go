package animator

import "time"

// StepFunc advances the session owned by generation gen to now. It returns
// false when the loop should end, either because the session finished or
// because gen has been superseded.
type StepFunc func(gen uint64, now time.Time) bool

// Loop is one animation loop bound to a single generation. It holds no
// cancel handle: a newer generation makes the next step return false and the
// loop simply stops requesting frames.
type Loop struct {
	gen    uint64
	step   StepFunc
	frames *FrameQueue
}

// Start requests the first frame of a loop for gen.
func Start(frames *FrameQueue, gen uint64, step StepFunc) *Loop {
	l := &Loop{gen: gen, step: step, frames: frames}
	frames.Request(l.frame)
	return l
}

// Generation is the generation the loop was created for.
func (l *Loop) Generation() uint64 {
	return l.gen
}

func (l *Loop) frame(now time.Time) {
	if l.step(l.gen, now) {
		l.frames.Request(l.frame)
	}
}
