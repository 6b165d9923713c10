// Package scheduler owns the scene's event state: a single foreground slot
// animated frame by frame, an independent background slot, and the memory
// of which one-shot calendar triggers already fired.
//
// Every animation loop is bound to the generation that was current when its
// session started. Starting or stopping a session bumps the generation, so a
// loop that still has a frame queued notices on that frame and exits without
// touching state. There is no other cancellation primitive.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"cardscene/internal/animator"
	"cardscene/internal/catalog"
	"cardscene/internal/clock"
	appLog "cardscene/internal/log"
	"cardscene/internal/model"
	"cardscene/internal/notify"
)

const (
	DefaultPollSpec  = "@every 10s"
	DefaultFrameRate = 60
)

// Options tunes the two cadences and the wall-clock zone.
type Options struct {
	// PollSpec is a robfig/cron spec for the rule polling cadence.
	PollSpec string
	// FrameRate is the number of animation frames per second.
	FrameRate int
	// Location, if set, is applied to clock readings before rules are
	// evaluated.
	Location *time.Location
}

// session is one foreground event. Only progress changes after creation.
type session struct {
	kind      model.Kind
	startedAt time.Time
	duration  time.Duration
	gen       uint64
	id        string
	text      *string
	progress  float64
}

// Scheduler is the scene's event state machine. All methods are safe for
// concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	catalog *catalog.Catalog
	clock   clock.Clock
	frames  *animator.FrameQueue
	hub     *notify.Hub
	opts    Options

	active       session
	background   model.Kind
	fired        map[string]struct{}
	generation   uint64
	bootstrapped bool
	timers       []clock.Timer
}

// New wires a Scheduler. frames is the queue animation loops request frames
// from; hub receives a snapshot after every state change.
func New(cat *catalog.Catalog, clk clock.Clock, frames *animator.FrameQueue, hub *notify.Hub, opts Options) *Scheduler {
	if opts.PollSpec == "" {
		opts.PollSpec = DefaultPollSpec
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	return &Scheduler{
		catalog: cat,
		clock:   clk,
		frames:  frames,
		hub:     hub,
		opts:    opts,
		fired:   make(map[string]struct{}),
	}
}

// Catalog returns the catalog the scheduler evaluates.
func (s *Scheduler) Catalog() *catalog.Catalog {
	return s.catalog
}

func (s *Scheduler) now() time.Time {
	now := s.clock.Now()
	if s.opts.Location != nil {
		now = now.In(s.opts.Location)
	}
	return now
}

// Trigger starts kind. Background kinds replace the background slot and
// leave the foreground alone. Foreground kinds preempt whatever is running.
// NONE and blacked-out kinds are silent no-ops. text is kept only for kinds
// that accept a payload; empty text falls back to the kind's default.
func (s *Scheduler) Trigger(kind model.Kind, text string) error {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggerLocked(kind, text, now)
}

func (s *Scheduler) triggerLocked(kind model.Kind, text string, now time.Time) error {
	if !kind.Valid() {
		return &catalog.ConfigError{Kind: kind, Reason: "not a known kind", Err: catalog.ErrUnknownKind}
	}
	if kind == model.KindNone {
		return nil
	}
	if _, ok := s.catalog.Spec(kind); !ok {
		return &catalog.ConfigError{Kind: kind, Reason: "no catalog entry", Err: catalog.ErrUnknownKind}
	}

	if s.catalog.IsBackground(kind) {
		if s.background != kind {
			appLog.Info("background event set", "kind", kind, "previous", s.background)
		}
		s.background = kind
		s.publishLocked(now)
		return nil
	}

	if s.catalog.Suppressed(kind, now) {
		appLog.Debug("trigger suppressed by blackout", "kind", kind, "date", now.Format("01-02"))
		return nil
	}

	duration, err := s.catalog.DurationOf(kind)
	if err != nil {
		return err
	}

	if s.active.kind != model.KindNone {
		appLog.Debug("preempting foreground event", "kind", s.active.kind, "session", s.active.id, "progress", s.active.progress)
	}

	s.generation++
	gen := s.generation

	var payload *string
	if s.catalog.AcceptsText(kind) {
		if text == "" {
			text = s.catalog.DefaultText(kind)
		}
		payload = &text
	}

	s.active = session{
		kind:      kind,
		startedAt: now,
		duration:  duration,
		gen:       gen,
		id:        uuid.NewString(),
		text:      payload,
	}
	s.publishLocked(now)

	animator.Start(s.frames, gen, s.step)

	appLog.Info("event started",
		"kind", kind,
		"session", s.active.id,
		"generation", gen,
		"duration_ms", duration.Milliseconds(),
	)
	return nil
}

// step is the per-frame body of the animation loop for generation gen.
func (s *Scheduler) step(gen uint64, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.generation || s.active.kind == model.KindNone {
		return false
	}

	p := animator.Progress(s.active.startedAt, now, s.active.duration)
	if p < s.active.progress {
		p = s.active.progress
	}
	s.active.progress = p
	s.publishLocked(now)

	if p < 1 {
		return true
	}

	appLog.Debug("event finished", "kind", s.active.kind, "session", s.active.id)
	s.retireLocked(now)
	return false
}

// Stop ends the foreground event, if any, and invalidates its loop.
func (s *Scheduler) Stop() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active.kind != model.KindNone {
		appLog.Info("event stopped", "kind", s.active.kind, "session", s.active.id, "progress", s.active.progress)
	}
	s.retireLocked(now)
}

func (s *Scheduler) retireLocked(now time.Time) {
	s.generation++
	s.active = session{}
	s.publishLocked(now)
}

// Poll is one tick of the rule polling loop. While a foreground event runs
// the whole tick is skipped; missed windows are not queued.
func (s *Scheduler) Poll(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.kind != model.KindNone {
		appLog.Debug("poll skipped, foreground busy", "kind", s.active.kind)
		return
	}

	foreground := false
	if ev, ok := s.catalog.MatchCalendar(now); ok {
		key := ev.Key()
		if _, done := s.fired[key]; !done {
			s.fired[key] = struct{}{}
			appLog.Info("calendar event matched", "key", key)
			s.logTriggerErr(s.triggerLocked(ev.Event, ev.Text, now), ev.Event)
			foreground = true
		}
	}

	if !foreground {
		if kind, ok := s.catalog.MatchRecurring(now.Hour()); ok && kind != s.active.kind {
			s.logTriggerErr(s.triggerLocked(kind, "", now), kind)
		}
	}

	if h, ok := s.catalog.HolidayAt(now); ok && h.Background != model.KindNone && s.background != h.Background {
		s.logTriggerErr(s.triggerLocked(h.Background, "", now), h.Background)
	}
}

func (s *Scheduler) logTriggerErr(err error, kind model.Kind) {
	if err == nil {
		return
	}
	var cfgErr *catalog.ConfigError
	if errors.As(err, &cfgErr) {
		appLog.Error("scheduled trigger rejected", err, "kind", kind)
		return
	}
	appLog.Error("scheduled trigger failed", err, "kind", kind)
}

// Bootstrap runs once per mount. Inside a holiday window that has a
// greeting it schedules the greeting bubble after GreetingDelay and the
// holiday background BackgroundDelay later. The greeting is skipped, and
// the background with it, if a foreground event is already running when
// the greeting is due.
func (s *Scheduler) Bootstrap() {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bootstrapped {
		return
	}
	s.bootstrapped = true

	h, ok := s.catalog.HolidayAt(now)
	if !ok || h.Greeting == "" {
		return
	}
	appLog.Info("holiday greeting scheduled", "holiday", h.Name, "delay", h.GreetingDelay)
	s.timers = append(s.timers, s.clock.AfterFunc(h.GreetingDelay, func() { s.greet(h) }))
}

func (s *Scheduler) greet(h catalog.Holiday) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bootstrapped {
		return
	}
	if s.active.kind != model.KindNone {
		appLog.Info("holiday greeting skipped, foreground busy", "holiday", h.Name, "kind", s.active.kind)
		return
	}
	s.logTriggerErr(s.triggerLocked(model.KindSpeechBubble, h.Greeting, now), model.KindSpeechBubble)

	if h.Background == model.KindNone {
		return
	}
	s.timers = append(s.timers, s.clock.AfterFunc(h.BackgroundDelay, func() { s.holidayBackground(h) }))
}

func (s *Scheduler) holidayBackground(h catalog.Holiday) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.bootstrapped {
		return
	}
	s.logTriggerErr(s.triggerLocked(h.Background, "", now), h.Background)
}

// Run mounts the scene: it runs Bootstrap, then polls rules on the cron
// cadence and drives animation frames until ctx is cancelled. On return
// pending bootstrap steps are cancelled and the foreground is stopped.
func (s *Scheduler) Run(ctx context.Context) error {
	cronOpts := []cron.Option{}
	if s.opts.Location != nil {
		cronOpts = append(cronOpts, cron.WithLocation(s.opts.Location))
	}
	c := cron.New(cronOpts...)
	if _, err := c.AddFunc(s.opts.PollSpec, func() { s.Poll(s.now()) }); err != nil {
		return fmt.Errorf("scheduler: poll spec %q: %w", s.opts.PollSpec, err)
	}

	appLog.Info("scheduler starting", "poll", s.opts.PollSpec, "frame_rate", s.opts.FrameRate)
	s.Bootstrap()
	c.Start()

	driverDone := make(chan struct{})
	go func() {
		defer close(driverDone)
		animator.NewDriver(s.frames, s.clock, s.opts.FrameRate).Run(ctx)
	}()

	<-ctx.Done()
	<-c.Stop().Done()
	<-driverDone

	s.unmount()
	appLog.Info("scheduler stopped")
	return nil
}

// unmount cancels pending bootstrap steps and stops the foreground. A
// bootstrap callback already waiting on the lock sees the cleared mount
// and does nothing.
func (s *Scheduler) unmount() {
	s.mu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.bootstrapped = false
	s.mu.Unlock()
	s.Stop()
}

// Snapshot returns the current state.
func (s *Scheduler) Snapshot() model.Snapshot {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(now)
}

// Generation returns the current generation counter.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// FiredKeys reports how many one-shot calendar keys have fired.
func (s *Scheduler) FiredKeys() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fired)
}

func (s *Scheduler) snapshotLocked(now time.Time) model.Snapshot {
	snap := model.Snapshot{
		ActiveEvent:     s.active.kind,
		BackgroundEvent: s.background,
		EventProgress:   s.active.progress,
		Generation:      s.generation,
		SessionID:       s.active.id,
		At:              now,
	}
	if s.active.text != nil {
		text := *s.active.text
		snap.BubbleText = &text
	}
	if s.active.kind.IsBubble() {
		snap.BubbleOpacity = animator.BubbleOpacity(s.active.progress)
	}
	return snap
}

func (s *Scheduler) publishLocked(now time.Time) {
	if s.hub != nil {
		s.hub.Publish(s.snapshotLocked(now))
	}
}
