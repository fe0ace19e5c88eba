// Package session runs one learner's playback of a course.
//
// Every state change happens on the session's own goroutine: public methods
// hand a closure to the loop and wait for it, timers tick inside the same
// select. Network I/O never runs on the loop.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/gate"
	"github.com/pot-code/course-playback/internal/scorm"
	"github.com/pot-code/course-playback/internal/syncer"
	"github.com/pot-code/course-playback/internal/tracker"
	"github.com/pot-code/course-playback/internal/xapi"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Config timers and limits of a session
type Config struct {
	HeartbeatInterval time.Duration
	SyncInterval      time.Duration
	RequestTimeout    time.Duration
	// SuspendDataLimit overrides the SCORM dialect limit when positive
	SuspendDataLimit int
	ActivityBase     string
}

// DefaultConfig heartbeat every 10s, periodic sync every 15s
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		SyncInterval:      15 * time.Second,
		RequestTimeout:    10 * time.Second,
		ActivityBase:      "urn:course-playback",
	}
}

// GradeResult outcome of a graded quiz attempt
type GradeResult struct {
	Passed     bool    `json:"passed"`
	Percentage float64 `json:"percentage"`
}

// Grader external quiz grading service
type Grader interface {
	Grade(ctx context.Context, assessmentID string, answers json.RawMessage) (GradeResult, error)
}

// ProgressEvent pushed to listeners after every progress change
type ProgressEvent struct {
	SessionID        string                `json:"session_id"`
	LessonID         string                `json:"lesson_id"`
	Progress         domain.LessonProgress `json:"progress"`
	Completed        bool                  `json:"completed"`
	CourseCompletion float64               `json:"course_completion"`
	Lock             *gate.LockState       `json:"lock_state"`
}

// ProgressListener runs on the session loop and must not call back into the session
type ProgressListener func(ProgressEvent)

// WarningListener sync health changes, active is false once delivery recovers
type WarningListener func(active bool, message string)

// SyncWarningMessage shown when progress cannot be delivered
const SyncWarningMessage = "progress may not be saved"

// Session one learner playing one course
type Session struct {
	id      string
	learner domain.Learner
	course  *domain.Course
	engine  *syncer.Engine
	slot    *scorm.Slot
	grader  Grader
	cfg     Config
	logger  *zap.Logger
	now     func() time.Time

	cmds      chan func(*playback)
	quit      chan struct{}
	stopped   chan struct{}
	flushes   sync.WaitGroup
	closeOnce sync.Once
	closeErr  error

	lmu      sync.Mutex
	nextID   int
	progress map[int]ProgressListener
	warnings map[int]WarningListener
}

// playback state owned by the loop goroutine
type playback struct {
	progress domain.ProgressMap
	lock     *gate.LockState
	tracker  *tracker.Tracker
	emitter  *xapi.Emitter
	current  *domain.Lesson
	openedAt time.Time
	playing  bool
	runtime  *scorm.Runtime
	dirty    map[string]bool
}

// Option session option
type Option func(*Session)

// WithConfig set timers and limits
func WithConfig(cfg Config) Option {
	return func(s *Session) {
		s.cfg = cfg
	}
}

// WithGrader grade quiz answers remotely
func WithGrader(g Grader) Option {
	return func(s *Session) {
		s.grader = g
	}
}

// WithSlot share a SCORM API slot
func WithSlot(slot *scorm.Slot) Option {
	return func(s *Session) {
		s.slot = slot
	}
}

// WithLogger set logger
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithClock override the time source
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// New start a session over course, seeded with the learner's stored progress
func New(id string, learner domain.Learner, course *domain.Course, snapshot *domain.CourseProgressSnapshot, engine *syncer.Engine, options ...Option) *Session {
	s := &Session{
		id:       id,
		learner:  learner,
		course:   course,
		engine:   engine,
		slot:     scorm.NewSlot(),
		cfg:      DefaultConfig(),
		logger:   zap.NewNop(),
		now:      time.Now,
		cmds:     make(chan func(*playback)),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		progress: make(map[int]ProgressListener),
		warnings: make(map[int]WarningListener),
	}
	for _, o := range options {
		o(s)
	}
	def := DefaultConfig()
	if s.cfg.HeartbeatInterval <= 0 {
		s.cfg.HeartbeatInterval = def.HeartbeatInterval
	}
	if s.cfg.SyncInterval <= 0 {
		s.cfg.SyncInterval = def.SyncInterval
	}
	if s.cfg.RequestTimeout <= 0 {
		s.cfg.RequestTimeout = def.RequestTimeout
	}
	if s.cfg.ActivityBase == "" {
		s.cfg.ActivityBase = def.ActivityBase
	}
	s.logger = s.logger.With(zap.String("session.id", id), zap.String("course.id", course.ID))

	pm := make(domain.ProgressMap)
	if snapshot != nil {
		pm = snapshot.LessonProgress.Clone()
	}
	p := &playback{
		progress: pm,
		lock:     gate.Compute(course, pm),
		tracker:  tracker.New(tracker.WithClock(s.now)),
		emitter:  xapi.NewEmitter(learner.ID, s.cfg.ActivityBase+"/courses/"+course.ID, xapi.WithClock(s.now)),
		dirty:    make(map[string]bool),
	}
	go s.run(p)
	return s
}

// ID session id
func (s *Session) ID() string {
	return s.id
}

// Learner owner of the session
func (s *Session) Learner() domain.Learner {
	return s.learner
}

// Course course being played
func (s *Session) Course() *domain.Course {
	return s.course
}

func (s *Session) run(p *playback) {
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	periodic := time.NewTicker(s.cfg.SyncInterval)
	defer func() {
		heartbeat.Stop()
		periodic.Stop()
		close(s.stopped)
	}()

	for {
		select {
		case fn := <-s.cmds:
			fn(p)
		case <-heartbeat.C:
			s.heartbeat(p)
		case <-periodic.C:
			s.enqueueDirty(p)
			s.flushAsync()
		case <-s.quit:
			return
		}
	}
}

// do run fn on the loop and wait for it
func (s *Session) do(fn func(p *playback)) error {
	done := make(chan struct{})
	select {
	case s.cmds <- func(p *playback) {
		defer close(done)
		fn(p)
	}:
	case <-s.quit:
		return domain.ErrSessionClosed
	}
	<-done
	return nil
}

// LockState lock decisions for the current progress
func (s *Session) LockState() (*gate.LockState, error) {
	var state *gate.LockState
	err := s.do(func(p *playback) {
		state = p.lock
	})
	return state, err
}

// LessonProgress progress of one lesson of the course
func (s *Session) LessonProgress(lessonID string) (domain.LessonProgress, error) {
	if _, _, ok := s.course.FindLesson(lessonID); !ok {
		return domain.LessonProgress{}, fmt.Errorf("%w: %s", domain.ErrLessonNotFound, lessonID)
	}
	var lp domain.LessonProgress
	err := s.do(func(p *playback) {
		lp = p.progress.Get(lessonID).Clone()
	})
	return lp, err
}

// Snapshot whole course progress with derived completion
func (s *Session) Snapshot() (*domain.CourseProgressSnapshot, error) {
	snapshot := &domain.CourseProgressSnapshot{CourseID: s.course.ID, LearnerID: s.learner.ID}
	err := s.do(func(p *playback) {
		snapshot.LessonProgress = p.progress.Clone()
	})
	if err != nil {
		return nil, err
	}
	snapshot.Derive(s.course)
	return snapshot, nil
}

// OnProgressChanged subscribe to progress changes, call the returned func to unsubscribe
func (s *Session) OnProgressChanged(fn ProgressListener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.progress[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.progress, id)
	}
}

// OnSyncWarning subscribe to sync health changes
func (s *Session) OnSyncWarning(fn WarningListener) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.warnings[id] = fn
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.warnings, id)
	}
}

// OpenLesson make lessonID the active lesson if the gate allows it. A lesson
// that is already open is returned as is; any other open lesson is closed.
func (s *Session) OpenLesson(ctx context.Context, lessonID string) (*domain.Lesson, domain.LessonProgress, error) {
	var (
		lesson *domain.Lesson
		lp     domain.LessonProgress
		err    error
	)
	if derr := s.do(func(p *playback) {
		lesson, lp, err = s.openLesson(p, lessonID)
	}); derr != nil {
		return nil, lp, derr
	}
	return lesson, lp, err
}

func (s *Session) openLesson(p *playback, lessonID string) (*domain.Lesson, domain.LessonProgress, error) {
	lesson, _, ok := s.course.FindLesson(lessonID)
	if !ok {
		return nil, domain.LessonProgress{}, fmt.Errorf("%w: %s", domain.ErrLessonNotFound, lessonID)
	}
	if err := p.lock.Check(lessonID); err != nil {
		return nil, domain.LessonProgress{}, err
	}
	prior := p.progress.Get(lessonID)
	if p.current != nil {
		if p.current.ID == lessonID {
			return lesson, prior.Clone(), nil
		}
		s.closeCurrent(p)
	}

	if lesson.Type == domain.LessonScorm {
		rt, err := scorm.NewRuntime(lesson, prior,
			scorm.WithEventHandler(func(e scorm.Event) { s.onScormEvent(p, e) }),
			scorm.WithLogger(s.logger.Named("scorm")),
			scorm.WithSuspendLimit(s.cfg.SuspendDataLimit),
			scorm.WithLearner(s.learner.ID, s.learner.Name),
			scorm.WithRuntimeClock(s.now),
		)
		if err != nil {
			return nil, domain.LessonProgress{}, err
		}
		if err := s.slot.Install(lessonID, &scormBridge{session: s, lessonID: lessonID, apiName: rt.APIName()}); err != nil {
			return nil, domain.LessonProgress{}, err
		}
		p.runtime = rt
	}

	p.current = lesson
	p.openedAt = s.now()
	p.playing = false
	s.engine.EnqueueStatement(context.Background(), p.emitter.Launched(lesson))
	s.logger.Debug("lesson opened", zap.String("lesson.id", lessonID), zap.String("lesson.type", string(lesson.Type)))
	return lesson, prior.Clone(), nil
}

// Signal feed a content observation for the open lesson. A seek past the
// watched content returns *domain.PolicySeekViolation and changes nothing.
func (s *Session) Signal(ctx context.Context, lessonID string, sig tracker.Signal) (tracker.Delta, error) {
	if q, ok := sig.(tracker.QuizResultSignal); ok {
		return s.RecordQuizResult(ctx, lessonID, GradeResult{Passed: q.Passed, Percentage: q.Percentage})
	}
	var (
		delta tracker.Delta
		err   error
	)
	if derr := s.do(func(p *playback) {
		if p.current == nil || p.current.ID != lessonID {
			err = domain.ErrLessonNotOpen
			return
		}
		switch sig.(type) {
		case tracker.PlayheadSignal:
			p.playing = true
		case tracker.EndedSignal:
			p.playing = false
		}
		delta, err = p.tracker.Observe(p.progress.Get(lessonID), p.current, sig)
		if err != nil {
			return
		}
		s.apply(p, p.current, delta)
	}); derr != nil {
		return delta, derr
	}
	return delta, err
}

// SubmitQuiz grade answers with the external grader and record the result
func (s *Session) SubmitQuiz(ctx context.Context, lessonID string, answers json.RawMessage) (GradeResult, error) {
	if s.grader == nil {
		return GradeResult{}, domain.ErrNoGrader
	}
	var (
		assessmentID string
		err          error
	)
	if derr := s.do(func(p *playback) {
		if p.current == nil || p.current.ID != lessonID {
			err = domain.ErrLessonNotOpen
			return
		}
		if p.current.Type != domain.LessonQuiz {
			err = fmt.Errorf("%w: lesson %s is %s", domain.ErrLessonTypeMismatch, lessonID, p.current.Type)
			return
		}
		assessmentID = p.current.AssessmentID
		if assessmentID == "" {
			assessmentID = lessonID
		}
	}); derr != nil {
		return GradeResult{}, derr
	} else if err != nil {
		return GradeResult{}, err
	}

	result, err := s.grader.Grade(ctx, assessmentID, answers)
	if err != nil {
		return GradeResult{}, err
	}
	_, err = s.RecordQuizResult(ctx, lessonID, result)
	return result, err
}

// RecordQuizResult apply a graded attempt. The quiz lesson completes whether
// or not the attempt passed.
func (s *Session) RecordQuizResult(ctx context.Context, lessonID string, result GradeResult) (tracker.Delta, error) {
	var (
		delta tracker.Delta
		err   error
	)
	if derr := s.do(func(p *playback) {
		if p.current == nil || p.current.ID != lessonID {
			err = domain.ErrLessonNotOpen
			return
		}
		sig := tracker.QuizResultSignal{Passed: result.Passed, Percentage: result.Percentage, At: s.now()}
		delta, err = p.tracker.Observe(p.progress.Get(lessonID), p.current, sig)
		if err != nil {
			return
		}
		s.engine.EnqueueStatement(context.Background(), p.emitter.QuizResult(p.current, result.Passed, result.Percentage))
		s.apply(p, p.current, delta)
		p.dirty[lessonID] = true
		s.enqueueDirty(p)
		s.flushAsync()
	}); derr != nil {
		return delta, derr
	}
	return delta, err
}

// CloseLesson leave the open lesson, terminating its SCORM runtime
func (s *Session) CloseLesson(ctx context.Context, lessonID string) error {
	var err error
	if derr := s.do(func(p *playback) {
		if p.current == nil || p.current.ID != lessonID {
			err = domain.ErrLessonNotOpen
			return
		}
		s.closeCurrent(p)
		s.enqueueDirty(p)
		s.flushAsync()
	}); derr != nil {
		return derr
	}
	return err
}

// ScormAPI the API object installed for the open SCORM lesson
func (s *Session) ScormAPI(name string) (scorm.API, bool) {
	return s.slot.Lookup(name)
}

// SetOnline forward a connectivity transition, coming back online replays the queue
func (s *Session) SetOnline(ctx context.Context, online bool) (syncer.Ack, error) {
	select {
	case <-s.quit:
		return syncer.Ack{}, domain.ErrSessionClosed
	default:
	}
	return s.engine.SetOnline(ctx, online)
}

// Save queue all unsaved progress and flush now
func (s *Session) Save(ctx context.Context) (syncer.Ack, error) {
	if err := s.do(s.enqueueDirty); err != nil {
		return syncer.Ack{}, err
	}
	return s.engine.Flush(ctx)
}

// Close tear the session down: stop both timers, release the SCORM slot and
// flush what is left. Safe to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		var errs error
		errs = multierr.Append(errs, s.do(func(p *playback) {
			s.closeCurrent(p)
			s.enqueueDirty(p)
		}))
		close(s.quit)
		<-s.stopped

		if _, err := s.engine.Flush(ctx); err != nil && !errors.Is(err, domain.ErrOffline) {
			errs = multierr.Append(errs, err)
		}
		s.engine.Close()
		s.flushes.Wait()
		s.closeErr = errs
		s.logger.Debug("session closed", zap.Error(errs))
	})
	return s.closeErr
}

// Done closed once the session loop has stopped
func (s *Session) Done() <-chan struct{} {
	return s.stopped
}

func (s *Session) closeCurrent(p *playback) {
	if p.current == nil {
		return
	}
	if p.runtime != nil {
		if p.runtime.State() == scorm.Initialized {
			p.runtime.Terminate()
		}
		s.slot.Uninstall(p.current.ID)
		p.runtime = nil
	}
	s.logger.Debug("lesson closed", zap.String("lesson.id", p.current.ID))
	p.current = nil
	p.playing = false
}

// apply store a tracker delta and fan out its consequences
func (s *Session) apply(p *playback, lesson *domain.Lesson, delta tracker.Delta) {
	if !delta.Changed {
		return
	}
	p.progress[lesson.ID] = delta.After
	p.dirty[lesson.ID] = true
	p.lock = gate.Compute(s.course, p.progress)

	if delta.Completed {
		s.engine.EnqueueStatement(context.Background(), p.emitter.Completed(lesson, s.now().Sub(p.openedAt)))
		s.enqueueDirty(p)
		s.flushAsync()
	}

	snapshot := domain.CourseProgressSnapshot{LessonProgress: p.progress}
	snapshot.Derive(s.course)
	s.notify(ProgressEvent{
		SessionID:        s.id,
		LessonID:         lesson.ID,
		Progress:         delta.After.Clone(),
		Completed:        delta.Completed,
		CourseCompletion: snapshot.CompletionPercentage,
		Lock:             p.lock,
	})
}

func (s *Session) onScormEvent(p *playback, e scorm.Event) {
	if p.current == nil || p.current.ID != e.LessonID {
		return
	}
	delta, err := p.tracker.Observe(p.progress.Get(e.LessonID), p.current, e.Signal)
	if err != nil {
		s.logger.Warn("scorm event rejected", zap.String("lesson.id", e.LessonID), zap.Error(err))
		return
	}
	s.apply(p, p.current, delta)
	if e.Kind == scorm.EventCommit {
		p.dirty[e.LessonID] = true
		s.enqueueDirty(p)
	}
}

func (s *Session) heartbeat(p *playback) {
	if p.current == nil || !p.current.Type.IsMedia() || !p.playing {
		return
	}
	lp := p.progress.Get(p.current.ID)
	s.engine.EnqueueStatement(context.Background(), p.emitter.Progressed(p.current, lp, s.now().Sub(p.openedAt)))
	p.playing = false
	s.enqueueDirty(p)
	s.flushAsync()
}

// enqueueDirty queue progress of every lesson changed since the last call
func (s *Session) enqueueDirty(p *playback) {
	for lessonID := range p.dirty {
		s.engine.EnqueueProgress(context.Background(), domain.ProgressDelta{
			CourseID:       s.course.ID,
			LearnerID:      s.learner.ID,
			LessonProgress: p.progress.Get(lessonID).Clone(),
		})
		delete(p.dirty, lessonID)
	}
}

// flushAsync flush off the loop, only ever called from the loop
func (s *Session) flushAsync() {
	s.flushes.Add(1)
	go func() {
		defer s.flushes.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RequestTimeout)
		defer cancel()
		if _, err := s.engine.Flush(ctx); err != nil &&
			!errors.Is(err, domain.ErrOffline) && !errors.Is(err, domain.ErrSessionClosed) {
			s.logger.Debug("background flush failed", zap.Error(err))
		}
	}()
}

func (s *Session) notify(e ProgressEvent) {
	s.lmu.Lock()
	listeners := make([]ProgressListener, 0, len(s.progress))
	for _, fn := range s.progress {
		listeners = append(listeners, fn)
	}
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}
}

// SyncWarning fan out a sync health change, wired to the engine's warning hooks
func (s *Session) SyncWarning(active bool) {
	msg := ""
	if active {
		msg = SyncWarningMessage
	}
	s.lmu.Lock()
	listeners := make([]WarningListener, 0, len(s.warnings))
	for _, fn := range s.warnings {
		listeners = append(listeners, fn)
	}
	s.lmu.Unlock()
	for _, fn := range listeners {
		fn(active, msg)
	}
}

// scormBridge API object content talks to, every call runs on the session loop
type scormBridge struct {
	session  *Session
	lessonID string
	apiName  string
}

var _ scorm.API = &scormBridge{}

func (b *scormBridge) APIName() string {
	return b.apiName
}

func (b *scormBridge) Call(method string, args ...string) string {
	result := scorm.False
	err := b.session.do(func(p *playback) {
		// a package left over from a closed lesson must not write
		if p.runtime == nil || p.runtime.LessonID() != b.lessonID {
			return
		}
		result = p.runtime.Call(method, args...)
	})
	if err != nil {
		return scorm.False
	}
	return result
}
