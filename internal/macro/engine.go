package macro

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/loov/hrtime"
	"github.com/razermapper/razermapperd/internal/errs"
	"github.com/sirupsen/logrus"
)

// Injector is the subset of the virtual-input device the engine drives
// during playback. internal/injector.Device satisfies it; defining it
// here (rather than importing internal/injector) keeps the macro
// engine free of a dependency on uinput's raw ioctl plumbing.
type Injector interface {
	KeyPress(code uint16) error
	KeyRelease(code uint16) error
	MouseButtonPress(code uint16) error
	MouseButtonRelease(code uint16) error
	MouseMove(dx, dy int32) error
	MouseScroll(amount int32) error
	TypeString(text string) error
	Execute(ctx context.Context, command string) error
}

// execution is one admitted, in-flight playback of a macro.
type execution struct {
	name      string
	startedAt time.Time
	cancel    chan struct{} // closed by StopMacro to request cancellation
}

// Engine owns the Recorder, the Store, and the execution table, and
// drives playback through an Injector with bounded concurrency.
type Engine struct {
	Recorder *Recorder
	Store    *Store

	injector Injector
	log      *logrus.Entry

	maxConcurrent int
	defaultDelay  time.Duration

	mu         sync.Mutex
	executions map[string]*execution
}

// NewEngine constructs a Macro Engine bound to the given injector.
// maxConcurrent bounds the number of simultaneously active macro
// executions (macro_engine.max_concurrent_macros); defaultDelay
// (macro_engine.default_delay) is stored on the engine, but playback
// does not apply it: only Delay actions pause between events.
func NewEngine(injector Injector, maxConcurrent int, defaultDelay time.Duration, log *logrus.Entry) *Engine {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Engine{
		Recorder:      NewRecorder(),
		Store:         NewStore(),
		injector:      injector,
		log:           log,
		maxConcurrent: maxConcurrent,
		defaultDelay:  defaultDelay,
		executions:    make(map[string]*execution),
	}
}

// HandleEvent is the dispatcher's single entry point for a normalized
// input event. It routes to the recorder when a recording targets the
// source device (or is unrestricted), otherwise to trigger matching
// (press events only; release events never trigger).
func (e *Engine) HandleEvent(deviceID string, code uint16, pressed bool) {
	if active, _, target := e.Recorder.Active(); active && (target == "" || target == deviceID) {
		e.Recorder.Observe(deviceID, code, pressed)
		return
	}
	if !pressed {
		return
	}
	for _, entry := range e.Store.Matching(deviceID, code) {
		e.Trigger(entry)
	}
}

// ActiveCount returns the number of in-flight executions.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executions)
}

// Trigger admits and, if accepted, starts playback of entry. Admission
// is refused (and the trigger dropped with a warning, not an error)
// when the concurrency bound is reached or the macro is already
// executing.
func (e *Engine) Trigger(entry Entry) {
	e.mu.Lock()
	if _, running := e.executions[entry.Name]; running {
		e.mu.Unlock()
		e.log.Warnf("dropping trigger for %q: already executing", entry.Name)
		return
	}
	if len(e.executions) >= e.maxConcurrent {
		e.mu.Unlock()
		e.log.Warnf("dropping trigger for %q: at capacity (%d/%d)", entry.Name, len(e.executions), e.maxConcurrent)
		return
	}
	ex := &execution{name: entry.Name, startedAt: time.Now(), cancel: make(chan struct{})}
	e.executions[entry.Name] = ex
	e.mu.Unlock()

	go e.play(entry, ex)
}

// Execute is the synchronous admission check used by ExecuteMacro and
// TestMacro request handlers: it looks up the macro by name and, if
// found and admitted, starts playback, returning an error for
// unknown names or a dropped admission.
func (e *Engine) Execute(name string) error {
	entry, ok := e.Store.Get(name)
	if !ok {
		return errs.New(errs.MacroNotFound, "no macro named "+name)
	}

	e.mu.Lock()
	if _, running := e.executions[name]; running {
		e.mu.Unlock()
		return errs.New(errs.CapacityExceeded, "macro "+name+" is already executing")
	}
	if len(e.executions) >= e.maxConcurrent {
		e.mu.Unlock()
		return errs.New(errs.CapacityExceeded, "max_concurrent_macros reached")
	}
	ex := &execution{name: name, startedAt: time.Now(), cancel: make(chan struct{})}
	e.executions[name] = ex
	e.mu.Unlock()

	go e.play(entry, ex)
	return nil
}

// StopMacro cancels an in-flight execution by name. The entry is
// removed from the table eagerly (before the goroutine observes
// cancellation) so the admission count stays accurate immediately.
func (e *Engine) StopMacro(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	ex, ok := e.executions[name]
	if !ok {
		return false
	}
	delete(e.executions, name)
	close(ex.cancel)
	return true
}

func (e *Engine) cancelled(ex *execution) bool {
	select {
	case <-ex.cancel:
		return true
	default:
		return false
	}
}

// play runs entry's actions strictly sequentially on a dedicated
// goroutine, sampling cancellation before each action and logging
// (without aborting) individual injector failures.
func (e *Engine) play(entry Entry, ex *execution) {
	start := hrtime.Now()
	defer func() {
		e.mu.Lock()
		delete(e.executions, entry.Name)
		e.mu.Unlock()
		e.log.Debugf("macro %q finished in %v", entry.Name, hrtime.Since(start))
	}()

	for _, action := range entry.Actions {
		if e.cancelled(ex) {
			e.log.Debugf("macro %q cancelled", entry.Name)
			return
		}
		if err := e.apply(action); err != nil {
			e.log.WithError(err).Warnf("macro %q: action %s failed", entry.Name, action.Kind)
		}
	}
}

func (e *Engine) apply(a Action) error {
	switch a.Kind {
	case KeyPress:
		return e.injector.KeyPress(a.Code)
	case KeyRelease:
		return e.injector.KeyRelease(a.Code)
	case Delay:
		if a.DelayMS == 0 {
			// Delay(0) yields to the scheduler without measurable sleep.
			runtime.Gosched()
			return nil
		}
		time.Sleep(time.Duration(a.DelayMS) * time.Millisecond)
		return nil
	case TypeText:
		return e.injector.TypeString(a.Text)
	case MouseButtonPress:
		return e.injector.MouseButtonPress(a.Code)
	case MouseButtonRelease:
		return e.injector.MouseButtonRelease(a.Code)
	case MouseMove:
		return e.injector.MouseMove(a.DX, a.DY)
	case MouseScroll:
		return e.injector.MouseScroll(a.ScrollAmount)
	case Execute:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.injector.Execute(ctx, a.Text)
	default:
		return errs.New(errs.SerializationError, "unknown action kind")
	}
}
