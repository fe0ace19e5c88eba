package scorm

import (
	"strconv"
	"strings"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/tracker"
	"go.uber.org/zap"
)

// State RTE lifecycle state
type State int

// RTE lifecycle
const (
	Uninitialized State = iota
	Initialized
	Terminated
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Terminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// EventKind what the content reported
type EventKind int

// runtime events
const (
	// EventStatus a status element was set to a completing value
	EventStatus EventKind = iota
	// EventScore the score element was set
	EventScore
	// EventCommit content committed its data model
	EventCommit
)

// Event progress reported by the hosted package
type Event struct {
	LessonID string
	Kind     EventKind
	Signal   tracker.ScormSignal
}

// EventHandler receives runtime events synchronously, inside the RTE call
type EventHandler func(Event)

// Runtime one lesson session of the SCORM run-time environment.
//
// All calls return SCORM string sentinels instead of errors. Not safe for
// concurrent use, the owning session serializes calls.
type Runtime struct {
	lessonID string
	dialect  Dialect
	state    State
	data     map[string]string
	handler  EventHandler
	logger   *zap.Logger
	now      func() time.Time
}

// RuntimeOption runtime option
type RuntimeOption func(*Runtime)

// WithEventHandler receive status, score and commit events
func WithEventHandler(h EventHandler) RuntimeOption {
	return func(r *Runtime) {
		r.handler = h
	}
}

// WithLogger log protocol misuse
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = logger
	}
}

// WithSuspendLimit override the dialect's suspend data limit
func WithSuspendLimit(limit int) RuntimeOption {
	return func(r *Runtime) {
		if limit > 0 {
			r.dialect.SuspendLimit = limit
		}
	}
}

// WithLearner expose learner identity through the data model
func WithLearner(id, name string) RuntimeOption {
	return func(r *Runtime) {
		r.data[r.dialect.LearnerID] = id
		r.data[r.dialect.LearnerName] = name
	}
}

// WithRuntimeClock override the event timestamp source
func WithRuntimeClock(now func() time.Time) RuntimeOption {
	return func(r *Runtime) {
		r.now = now
	}
}

// NewRuntime create a runtime for lesson, seeding suspend data from prior progress.
//
// Lessons without an explicit version run the 1.2 dialect.
func NewRuntime(lesson *domain.Lesson, prior domain.LessonProgress, options ...RuntimeOption) (*Runtime, error) {
	if lesson.Type != domain.LessonScorm {
		return nil, domain.ErrNotScormLesson
	}
	version := lesson.ScormVersion
	if version == "" {
		version = domain.Scorm12
	}
	dialect, err := LookupDialect(version)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		lessonID: lesson.ID,
		dialect:  dialect,
		data:     make(map[string]string),
		handler:  func(Event) {},
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, o := range options {
		o(r)
	}
	if prior.SuspendData != "" {
		r.data[dialect.SuspendElement] = prior.SuspendData
		r.data[dialect.EntryElement] = "resume"
	} else {
		r.data[dialect.EntryElement] = "ab-initio"
	}
	return r, nil
}

// APIName global name the runtime is looked up by
func (r *Runtime) APIName() string {
	return r.dialect.APIName
}

// LessonID lesson this runtime belongs to
func (r *Runtime) LessonID() string {
	return r.lessonID
}

// State current lifecycle state
func (r *Runtime) State() State {
	return r.state
}

// Snapshot copy of the data model
func (r *Runtime) Snapshot() map[string]string {
	out := make(map[string]string, len(r.data))
	for k, v := range r.data {
		out[k] = v
	}
	return out
}

// Call dispatch a version specific RTE function by name
func (r *Runtime) Call(method string, args ...string) string {
	arg := func(i int) string {
		if i < len(args) {
			return args[i]
		}
		return ""
	}
	switch r.dialect.Method(method) {
	case MethodInitialize:
		return r.Initialize()
	case MethodTerminate:
		return r.Terminate()
	case MethodGetValue:
		return r.GetValue(arg(0))
	case MethodSetValue:
		return r.SetValue(arg(0), arg(1))
	case MethodCommit:
		return r.Commit()
	case MethodGetLastError:
		return r.GetLastError()
	case MethodGetErrorString:
		return r.GetErrorString(arg(0))
	case MethodGetDiagnostic:
		return r.GetDiagnostic(arg(0))
	}
	r.misuse("unknown method", zap.String("scorm.method", method))
	return False
}

// Initialize Uninitialized -> Initialized, once
func (r *Runtime) Initialize() string {
	if r.state != Uninitialized {
		r.misuse("initialize in wrong state")
		return False
	}
	r.state = Initialized
	return True
}

// Terminate commit and move to Terminated
func (r *Runtime) Terminate() string {
	if r.state != Initialized {
		r.misuse("terminate in wrong state")
		return False
	}
	r.commit()
	r.state = Terminated
	return True
}

// GetValue stored value, empty when unset or not initialized
func (r *Runtime) GetValue(element string) string {
	if r.state != Initialized {
		r.misuse("get value in wrong state", zap.String("scorm.element", element))
		return emptyValue
	}
	return r.data[element]
}

// SetValue write element, reporting completion and score changes
func (r *Runtime) SetValue(element, value string) string {
	if r.state != Initialized {
		r.misuse("set value in wrong state", zap.String("scorm.element", element))
		return False
	}
	if !wellFormed(element) {
		r.misuse("malformed element", zap.String("scorm.element", element))
		return False
	}
	if element == r.dialect.SuspendElement && r.dialect.SuspendLimit > 0 && len(value) > r.dialect.SuspendLimit {
		r.misuse("suspend data over limit", zap.Int("scorm.length", len(value)))
		return False
	}
	r.data[element] = value

	switch {
	case r.dialect.Completes(element, value):
		r.handler(Event{
			LessonID: r.lessonID,
			Kind:     EventStatus,
			Signal:   tracker.ScormSignal{Completed: true, At: r.now()},
		})
	case element == r.dialect.ScoreElement || element == r.dialect.ScoreMax:
		if score, ok := r.score(); ok {
			r.handler(Event{
				LessonID: r.lessonID,
				Kind:     EventScore,
				Signal:   tracker.ScormSignal{Score: &score, At: r.now()},
			})
		}
	}
	return True
}

// Commit flush status, score and suspend data to the owner
func (r *Runtime) Commit() string {
	if r.state != Initialized {
		r.misuse("commit in wrong state")
		return False
	}
	r.commit()
	return True
}

// GetLastError always "no error"
func (r *Runtime) GetLastError() string {
	return NoError
}

// GetErrorString text for code, only "no error" is modeled
func (r *Runtime) GetErrorString(code string) string {
	return "No error"
}

// GetDiagnostic no diagnostics are kept
func (r *Runtime) GetDiagnostic(code string) string {
	return emptyValue
}

func (r *Runtime) commit() {
	sig := tracker.ScormSignal{At: r.now()}
	for element := range r.dialect.Completion {
		if r.dialect.Completes(element, r.data[element]) {
			sig.Completed = true
		}
	}
	if score, ok := r.score(); ok {
		sig.Score = &score
	}
	if suspend, ok := r.data[r.dialect.SuspendElement]; ok {
		sig.SuspendData = &suspend
	}
	r.handler(Event{LessonID: r.lessonID, Kind: EventCommit, Signal: sig})
}

// score raw score as a percentage, scaled by max when content sets one
func (r *Runtime) score() (float64, bool) {
	raw, err := strconv.ParseFloat(strings.TrimSpace(r.data[r.dialect.ScoreElement]), 64)
	if err != nil {
		return 0, false
	}
	if max, err := strconv.ParseFloat(strings.TrimSpace(r.data[r.dialect.ScoreMax]), 64); err == nil && max > 0 {
		return raw / max * 100, true
	}
	return raw, true
}

func wellFormed(element string) bool {
	return strings.HasPrefix(element, "cmi.") || strings.HasPrefix(element, "adl.")
}

func (r *Runtime) misuse(msg string, fields ...zap.Field) {
	fields = append(fields,
		zap.String("lesson.id", r.lessonID),
		zap.String("scorm.version", string(r.dialect.Version)),
		zap.Stringer("scorm.state", r.state),
	)
	r.logger.Debug("scorm: "+msg, fields...)
}
