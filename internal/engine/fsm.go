package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rendis/drawmaid/pkg/schema"
)

// TransitionHook is called before or after a stage transition.
type TransitionHook func(from, to schema.Stage) error

// EventAppender receives the stage events emitted on transitions.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *schema.StageEvent) error
}

type stageHookKey struct {
	from, to schema.Stage
}

// StageFSM validates conversion pipeline transitions and emits stage events.
// One StageFSM serves many requests; per-request position lives in a StageTracker.
type StageFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[stageHookKey][]TransitionHook
	after    map[stageHookKey][]TransitionHook
	now      func() time.Time
}

// NewStageFSM creates a StageFSM that emits events via the given appender.
// A nil appender disables event emission.
func NewStageFSM(appender EventAppender) *StageFSM {
	return &StageFSM{
		appender: appender,
		before:   make(map[stageHookKey][]TransitionHook),
		after:    make(map[stageHookKey][]TransitionHook),
		now:      time.Now,
	}
}

// OnBefore registers a hook called before a transition. A hook error aborts it.
func (f *StageFSM) OnBefore(from, to schema.Stage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *StageFSM) OnAfter(from, to schema.Stage, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates and executes a stage transition for a request.
func (f *StageFSM) Transition(ctx context.Context, requestID string, from, to schema.Stage, payload map[string]any) error {
	if !IsValidStageTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeTransition,
			"invalid stage transition: %s -> %s", from, to).
			WithStage(from).
			WithDetails(map[string]any{"request_id": requestID, "from": string(from), "to": string(to)})
	}

	key := stageHookKey{from, to}
	f.mu.Lock()
	before := slices.Clone(f.before[key])
	after := slices.Clone(f.after[key])
	f.mu.Unlock()

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if f.appender != nil {
		event := &schema.StageEvent{
			RequestID: requestID,
			Type:      stageEventType(to),
			From:      from,
			To:        to,
			Payload:   payload,
			Timestamp: f.now(),
		}
		if err := f.appender.AppendEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeInternal, "emit stage event: %s", err.Error()).
				WithStage(from).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// Tracker starts tracking one request at the received stage.
func (f *StageFSM) Tracker(requestID string) *StageTracker {
	return &StageTracker{fsm: f, requestID: requestID, current: schema.StageReceived, entered: f.now()}
}

// StageTracker records a single request's walk through the stages.
// It is not safe for concurrent use; each request owns its tracker.
type StageTracker struct {
	fsm       *StageFSM
	requestID string
	current   schema.Stage
	entered   time.Time
	durations map[schema.Stage]time.Duration
}

// Current returns the current stage.
func (t *StageTracker) Current() schema.Stage {
	return t.current
}

// Advance moves to the next stage, recording how long the previous stage took.
func (t *StageTracker) Advance(ctx context.Context, to schema.Stage, payload map[string]any) error {
	if err := t.fsm.Transition(ctx, t.requestID, t.current, to, payload); err != nil {
		return err
	}
	now := t.fsm.now()
	if t.durations == nil {
		t.durations = make(map[schema.Stage]time.Duration)
	}
	t.durations[to] = now.Sub(t.entered)
	t.entered = now
	t.current = to
	return nil
}

// Fail moves to the failed stage unless already terminal.
func (t *StageTracker) Fail(ctx context.Context, cause error) {
	if t.current.IsTerminal() {
		return
	}
	payload := map[string]any{}
	if cause != nil {
		payload["error"] = cause.Error()
	}
	_ = t.Advance(ctx, schema.StageFailed, payload)
}

// Durations returns the time spent reaching each stage.
func (t *StageTracker) Durations() map[schema.Stage]time.Duration {
	out := make(map[schema.Stage]time.Duration, len(t.durations))
	for k, v := range t.durations {
		out[k] = v
	}
	return out
}

// IsValidStageTransition reports whether the stage table allows from -> to.
func IsValidStageTransition(from, to schema.Stage) bool {
	allowed, ok := ValidStageTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

func stageEventType(to schema.Stage) string {
	switch to {
	case schema.StageDone:
		return schema.EventConversionDone
	case schema.StageFailed:
		return schema.EventConversionFailed
	default:
		return schema.EventStageEntered
	}
}

// ValidStageTransitions defines the allowed transitions of the conversion pipeline.
// Rasterization and embedding are optional; failed is reachable from any non-terminal stage.
var ValidStageTransitions = map[schema.Stage][]schema.Stage{
	schema.StageReceived:           {schema.StageValidated, schema.StageFailed},
	schema.StageValidated:          {schema.StageTypeDetected, schema.StageFailed},
	schema.StageTypeDetected:       {schema.StageConverterSelected, schema.StageFailed},
	schema.StageConverterSelected:  {schema.StageSourceParsed, schema.StageFailed},
	schema.StageSourceParsed:       {schema.StagePositionsExtracted, schema.StageFailed},
	schema.StagePositionsExtracted: {schema.StageXMLBuilt, schema.StageFailed},
	schema.StageXMLBuilt:           {schema.StageRasterized, schema.StageDone, schema.StageFailed},
	schema.StageRasterized:         {schema.StageXMLEmbedded, schema.StageFailed},
	schema.StageXMLEmbedded:        {schema.StageDone, schema.StageFailed},
	schema.StageDone:               {},
	schema.StageFailed:             {},
}
