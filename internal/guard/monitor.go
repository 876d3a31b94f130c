// Package guard runs the per-source watch loop: capture a baseline, compare
// every new frame against it and raise an alarm when the classifier says so.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/blipguard/internal/mjpeg"
	"github.com/your-org/blipguard/pkg/classifier"
	"github.com/your-org/blipguard/pkg/cooldown"
	apperrors "github.com/your-org/blipguard/pkg/errors"
	"github.com/your-org/blipguard/pkg/report"
	"github.com/your-org/blipguard/pkg/storage/framestore"
)

const (
	DefaultPollInterval = 8 * time.Second
	DefaultCooldown     = 6 * time.Minute
	DefaultTurnTimeout  = 2 * time.Minute

	tracerName = "github.com/your-org/blipguard/internal/guard"
)

// FrameGrabber fetches exactly one frame from a stream URL.
type FrameGrabber interface {
	Grab(ctx context.Context, url string) (*mjpeg.Frame, error)
}

// Classifier judges frames against a baseline and explains alarms.
type Classifier interface {
	Classify(ctx context.Context, baseline, current classifier.Image) (classifier.Verdict, error)
	Explain(ctx context.Context, current classifier.Image) (string, error)
}

// Reporter delivers status messages to the report sink.
type Reporter interface {
	Report(ctx context.Context, source, message string) error
}

// Notifier pushes an alert to the owner.
type Notifier interface {
	Notify(ctx context.Context, explanation string) error
}

// EventPublisher emits alarm events to subscribers.
type EventPublisher interface {
	PublishJSON(ctx context.Context, key, eventType string, payload any) error
}

// Outcome summarises what a single turn did.
type Outcome string

const (
	OutcomeBaseline Outcome = "baseline"
	OutcomeClear    Outcome = "clear"
	OutcomeAlarm    Outcome = "alarm"
	OutcomeCooldown Outcome = "cooldown"
	OutcomeBusy     Outcome = "busy"
	OutcomeFailed   Outcome = "failed"
)

// Params wires a Monitor. Frames, Events and Cooldowns are optional.
type Params struct {
	Sources    []*Source
	Grabber    FrameGrabber
	Classifier Classifier
	Reporter   Reporter
	Notifier   Notifier
	Frames     framestore.Store
	Events     EventPublisher
	Cooldowns  cooldown.Store
	Logger     *zap.Logger
	Tracer     trace.Tracer
	Now        func() time.Time

	PollInterval time.Duration
	Cooldown     time.Duration
	TurnTimeout  time.Duration
}

// Monitor owns the sources and drives their state machines.
type Monitor struct {
	sources    []*Source
	grabber    FrameGrabber
	classifier Classifier
	reporter   Reporter
	notifier   Notifier
	frames     framestore.Store
	events     EventPublisher
	cooldowns  cooldown.Store
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	pollInterval time.Duration
	cooldown     time.Duration
	turnTimeout  time.Duration
}

// NewMonitor validates p and fills in defaults.
func NewMonitor(p Params) (*Monitor, error) {
	switch {
	case len(p.Sources) == 0:
		return nil, apperrors.New(apperrors.KindConfig, "guard.new", "at least one source is required")
	case p.Grabber == nil, p.Classifier == nil:
		return nil, apperrors.New(apperrors.KindConfig, "guard.new", "grabber and classifier are required")
	case p.Reporter == nil, p.Notifier == nil:
		return nil, apperrors.New(apperrors.KindConfig, "guard.new", "reporter and notifier are required")
	}

	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Tracer == nil {
		p.Tracer = otel.Tracer(tracerName)
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.Cooldown <= 0 {
		p.Cooldown = DefaultCooldown
	}
	if p.TurnTimeout <= 0 {
		p.TurnTimeout = DefaultTurnTimeout
	}

	return &Monitor{
		sources:      p.Sources,
		grabber:      p.Grabber,
		classifier:   p.Classifier,
		reporter:     p.Reporter,
		notifier:     p.Notifier,
		frames:       p.Frames,
		events:       p.Events,
		cooldowns:    p.Cooldowns,
		logger:       p.Logger,
		tracer:       p.Tracer,
		now:          p.Now,
		pollInterval: p.PollInterval,
		cooldown:     p.Cooldown,
		turnTimeout:  p.TurnTimeout,
	}, nil
}

// ErrUnknownSource is returned when an id matches no monitored source.
var ErrUnknownSource = errors.New("unknown source")

// ResetBaseline drops the baseline of the source with the given id so that its
// next turn captures a fresh one.
func (m *Monitor) ResetBaseline(id string) error {
	for _, src := range m.sources {
		if src.ID == id {
			src.ResetBaseline()
			m.logger.Info("baseline reset", zap.String("source", id))
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownSource, id)
}

// Status returns a snapshot of every source.
func (m *Monitor) Status() []Status {
	now := m.now()
	out := make([]Status, 0, len(m.sources))
	for _, src := range m.sources {
		out = append(out, src.status(now))
	}
	return out
}

// Restore reloads unexpired cooldowns from the cooldown store.
func (m *Monitor) Restore(ctx context.Context) {
	if m.cooldowns == nil {
		return
	}
	for _, src := range m.sources {
		until, ok, err := m.cooldowns.Load(ctx, src.ID)
		if err != nil {
			m.logger.Warn("restore cooldown failed", zap.String("source", src.ID), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		src.setCooldown(until)
		m.logger.Info("cooldown restored", zap.String("source", src.ID), zap.Time("until", until))
	}
}

// Run restores cooldowns and then polls every source on its own goroutine until
// ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	m.Restore(ctx)

	m.logger.Info("guard monitor starting",
		zap.Int("sources", len(m.sources)),
		zap.Duration("poll_interval", m.pollInterval),
		zap.Duration("cooldown", m.cooldown),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, src := range m.sources {
		g.Go(func() error {
			return m.watch(ctx, src)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (m *Monitor) watch(ctx context.Context, src *Source) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		m.Turn(ctx, src)
		timer.Reset(m.pollInterval)
	}
}

// Pass runs one turn for every source concurrently and waits for all of them.
func (m *Monitor) Pass(ctx context.Context) map[string]Outcome {
	var (
		mu       sync.Mutex
		outcomes = make(map[string]Outcome, len(m.sources))
		wg       sync.WaitGroup
	)
	for _, src := range m.sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := m.Turn(ctx, src)
			mu.Lock()
			outcomes[src.ID] = outcome
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

// Once runs a Pass and then a second turn for every source that only captured
// its baseline, so each source is classified at least once on a fresh start.
func (m *Monitor) Once(ctx context.Context) map[string]Outcome {
	m.Restore(ctx)
	outcomes := m.Pass(ctx)

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, src := range m.sources {
		if outcomes[src.ID] != OutcomeBaseline {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome := m.Turn(ctx, src)
			mu.Lock()
			outcomes[src.ID] = outcome
			mu.Unlock()
		}()
	}
	wg.Wait()
	return outcomes
}

// Turn advances src by one step. Failures are logged and never escape; the
// next turn starts from the same state.
func (m *Monitor) Turn(ctx context.Context, src *Source) Outcome {
	if !src.turn.TryLock() {
		m.logger.Debug("turn already in flight", zap.String("source", src.ID))
		return OutcomeBusy
	}
	defer src.turn.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.turnTimeout)
	defer cancel()

	ctx, span := m.tracer.Start(ctx, "guard.turn", trace.WithAttributes(attribute.String("source.id", src.ID)))
	defer span.End()

	logger := m.logger.With(zap.String("source", src.ID))
	state := src.State(m.now())

	var outcome Outcome
	switch state {
	case Uninitialized:
		outcome = m.captureBaseline(ctx, src, logger)
	case Cooldown:
		logger.Debug("source cooling down", zap.Time("until", src.CooldownUntil()))
		outcome = OutcomeCooldown
	default:
		outcome = m.poll(ctx, src, logger)
	}

	span.SetAttributes(
		attribute.String("guard.state", state.String()),
		attribute.String("guard.outcome", string(outcome)),
	)
	return outcome
}

func (m *Monitor) captureBaseline(ctx context.Context, src *Source, logger *zap.Logger) Outcome {
	frame, err := m.grabber.Grab(ctx, src.URL)
	if err != nil {
		m.fail(ctx, logger, "baseline grab failed", err)
		return OutcomeFailed
	}

	if src.setBaseline(frame) {
		logger.Info("baseline captured", zap.Int("bytes", len(frame.Data)))
	}
	return OutcomeBaseline
}

func (m *Monitor) poll(ctx context.Context, src *Source, logger *zap.Logger) Outcome {
	current, err := m.grabber.Grab(ctx, src.URL)
	if err != nil {
		m.fail(ctx, logger, "frame grab failed", err)
		return OutcomeFailed
	}

	verdict, err := m.classifier.Classify(ctx, imageOf(src.Baseline()), imageOf(current))
	if err != nil {
		m.fail(ctx, logger, "classification failed", err)
		return OutcomeFailed
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("guard.verdict", verdict.String()))

	if verdict == classifier.Clear {
		logger.Debug("all clear")
		if err := m.reporter.Report(ctx, src.ID, report.StatusOK); err != nil {
			m.fail(ctx, logger, "status report failed", err)
		}
		return OutcomeClear
	}

	m.raiseAlarm(ctx, src, current, logger)
	return OutcomeAlarm
}

// raiseAlarm runs the alarm protocol in order. Every step past classification
// is best-effort, and the cooldown is always entered.
func (m *Monitor) raiseAlarm(ctx context.Context, src *Source, current *mjpeg.Frame, logger *zap.Logger) {
	detectedAt := m.now()
	logger.Warn("suspicious activity detected")

	if err := m.reporter.Report(ctx, src.ID, report.StatusAlarm); err != nil {
		m.fail(ctx, logger, "alarm report failed", err)
	}

	explanation, err := m.classifier.Explain(ctx, imageOf(current))
	if err != nil {
		m.fail(ctx, logger, "explanation failed, using fallback", err)
		explanation = fmt.Sprintf("Suspicious activity detected on %s.", src.ID)
	}

	// past this point the turn deadline may already be spent; the remaining
	// side effects still need to happen
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := m.notifier.Notify(ctx, explanation); err != nil {
		m.fail(ctx, logger, "notification failed", err)
	}
	if err := m.reporter.Report(ctx, src.ID, explanation); err != nil {
		m.fail(ctx, logger, "explanation report failed", err)
	}

	ref := m.persist(ctx, src, current, logger)

	until := detectedAt.Add(m.cooldown)
	event := AlarmEvent{
		ID:            uuid.NewString(),
		SourceID:      src.ID,
		Explanation:   explanation,
		ContentType:   current.ContentType,
		FrameBytes:    len(current.Data),
		FrameRef:      ref,
		DetectedAt:    detectedAt.UTC(),
		CooldownUntil: until.UTC(),
		Frame:         current,
	}
	if m.events != nil {
		if err := m.events.PublishJSON(ctx, src.ID, AlarmEventType, event); err != nil {
			m.fail(ctx, logger, "publish alarm event failed", err)
		}
	}

	src.setCooldown(until)
	if m.cooldowns != nil {
		if err := m.cooldowns.Save(ctx, src.ID, until); err != nil {
			m.fail(ctx, logger, "persist cooldown failed", err)
		}
	}

	logger.Info("alarm raised",
		zap.String("alarm_id", event.ID),
		zap.String("frame_ref", ref),
		zap.Time("cooldown_until", until),
	)
}

func (m *Monitor) persist(ctx context.Context, src *Source, frame *mjpeg.Frame, logger *zap.Logger) string {
	if m.frames == nil {
		return ""
	}
	ref, err := m.frames.Save(ctx, framestore.Record{
		SourceID:    src.ID,
		ContentType: frame.ContentType,
		Extension:   frame.Extension(),
		Data:        frame.Data,
		CapturedAt:  frame.CapturedAt,
	})
	if err != nil {
		m.fail(ctx, logger, "persist flagged frame failed", err)
		return ""
	}
	return ref
}

func (m *Monitor) fail(ctx context.Context, logger *zap.Logger, msg string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err)
	span.SetStatus(codes.Error, msg)

	logger.Warn(msg, zap.String("kind", string(apperrors.KindOf(err))), zap.Error(err))
}

func imageOf(frame *mjpeg.Frame) classifier.Image {
	return classifier.Image{Base64: frame.Encoded, ContentType: frame.ContentType}
}
