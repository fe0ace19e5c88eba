package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/scorm"
	"github.com/pot-code/course-playback/internal/syncer"
	"github.com/pot-code/course-playback/internal/tracker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingTransport struct {
	mu         sync.Mutex
	progress   []domain.ProgressDelta
	statements []domain.XapiStatement
	err        error
}

func (rt *recordingTransport) SendProgress(ctx context.Context, deltas []domain.ProgressDelta) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.err != nil {
		return rt.err
	}
	rt.progress = append(rt.progress, deltas...)
	return nil
}

func (rt *recordingTransport) SendStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.err != nil {
		return rt.err
	}
	rt.statements = append(rt.statements, stmts...)
	return nil
}

func (rt *recordingTransport) delivered(lessonID string) (domain.LessonProgress, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var (
		out   domain.LessonProgress
		found bool
	)
	for _, d := range rt.progress {
		if d.LessonID == lessonID {
			out = domain.MergeLessonProgress(out, d.LessonProgress)
			found = true
		}
	}
	return out, found
}

func (rt *recordingTransport) verbs() []domain.Verb {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]domain.Verb, 0, len(rt.statements))
	for _, s := range rt.statements {
		out = append(out, s.Verb)
	}
	return out
}

type stubGrader struct {
	result GradeResult
	got    string
}

func (sg *stubGrader) Grade(ctx context.Context, assessmentID string, answers json.RawMessage) (GradeResult, error) {
	sg.got = assessmentID
	return sg.result, nil
}

func testCourse() *domain.Course {
	return &domain.Course{
		ID: "c1",
		Modules: []*domain.Module{
			{ID: "m1", Lessons: []*domain.Lesson{
				{ID: "v1", Type: domain.LessonVideo, DurationSeconds: 100},
				{ID: "q1", Type: domain.LessonQuiz, AssessmentID: "a1"},
			}},
			{ID: "m2", Lessons: []*domain.Lesson{
				{ID: "s1", Type: domain.LessonScorm, ScormVersion: domain.Scorm12},
			}},
		},
	}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = time.Hour
	cfg.SyncInterval = time.Hour
	cfg.RequestTimeout = time.Second
	return cfg
}

func completed(ids ...string) *domain.CourseProgressSnapshot {
	pm := make(domain.ProgressMap)
	for _, id := range ids {
		pm[id] = domain.LessonProgress{LessonID: id, CompletionPercentage: 100, IsCompleted: true}
	}
	return &domain.CourseProgressSnapshot{CourseID: "c1", LessonProgress: pm}
}

func newSession(t *testing.T, snapshot *domain.CourseProgressSnapshot, rt syncer.Transport, opts ...Option) *Session {
	t.Helper()
	engine := syncer.NewEngine(rt)
	opts = append([]Option{WithConfig(testConfig())}, opts...)
	s := New("sess-1", domain.Learner{ID: "u1", Name: "Ada"}, testCourse(), snapshot, engine, opts...)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestOpenLockedLesson(t *testing.T) {
	s := newSession(t, nil, new(recordingTransport))

	_, _, err := s.OpenLesson(context.Background(), "q1")
	var gv *domain.GateViolation
	require.True(t, errors.As(err, &gv))
	assert.Equal(t, "q1", gv.LessonID)

	_, _, err = s.OpenLesson(context.Background(), "nope")
	assert.True(t, errors.Is(err, domain.ErrLessonNotFound))
}

func TestSignalRequiresOpenLesson(t *testing.T) {
	s := newSession(t, nil, new(recordingTransport))

	_, err := s.Signal(context.Background(), "v1", tracker.PlayheadSignal{Fraction: 0.5})
	assert.Equal(t, domain.ErrLessonNotOpen, err)
}

func TestVideoCompletionUnlocksQuizAndFlushes(t *testing.T) {
	ctx := context.Background()
	rt := new(recordingTransport)
	s := newSession(t, nil, rt)

	events := make(chan ProgressEvent, 8)
	unsubscribe := s.OnProgressChanged(func(e ProgressEvent) { events <- e })
	defer unsubscribe()

	_, _, err := s.OpenLesson(ctx, "v1")
	require.NoError(t, err)

	delta, err := s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 50.0, delta.After.CompletionPercentage)
	assert.Equal(t, 50.0, delta.After.CurrentPosition)

	e := <-events
	assert.Equal(t, "v1", e.LessonID)
	assert.False(t, e.Completed)
	assert.Zero(t, e.CourseCompletion)

	delta, err = s.Signal(ctx, "v1", tracker.EndedSignal{})
	require.NoError(t, err)
	assert.True(t, delta.Completed)

	e = <-events
	assert.True(t, e.Completed)
	assert.InDelta(t, 100.0/3, e.CourseCompletion, 0.001)
	lock, ok := e.Lock.Lesson("q1")
	require.True(t, ok)
	assert.False(t, lock.Locked)

	assert.Eventually(t, func() bool {
		lp, ok := rt.delivered("v1")
		return ok && lp.IsCompleted
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, rt.verbs(), domain.VerbLaunched)
	assert.Contains(t, rt.verbs(), domain.VerbCompleted)

	_, _, err = s.OpenLesson(ctx, "q1")
	assert.NoError(t, err)
}

func TestSeekAheadIsRejected(t *testing.T) {
	ctx := context.Background()
	s := newSession(t, nil, new(recordingTransport))

	_, _, err := s.OpenLesson(ctx, "v1")
	require.NoError(t, err)
	_, err = s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: 0.3})
	require.NoError(t, err)

	delta, err := s.Signal(ctx, "v1", tracker.SeekSignal{Fraction: 0.8})
	var violation *domain.PolicySeekViolation
	require.True(t, errors.As(err, &violation))
	assert.InDelta(t, 0.3, violation.SnapBackTo, 1e-9)
	assert.InDelta(t, 30.0, violation.SnapBackSeconds, 1e-9)
	assert.False(t, delta.Changed)

	lp, err := s.LessonProgress("v1")
	require.NoError(t, err)
	assert.Equal(t, 30.0, lp.CompletionPercentage)
}

func TestSubmitQuiz(t *testing.T) {
	ctx := context.Background()
	grader := &stubGrader{result: GradeResult{Passed: false, Percentage: 40}}
	s := newSession(t, completed("v1"), new(recordingTransport), WithGrader(grader))

	_, _, err := s.OpenLesson(ctx, "q1")
	require.NoError(t, err)

	result, err := s.SubmitQuiz(ctx, "q1", json.RawMessage(`{"answers":[1,2]}`))
	require.NoError(t, err)
	assert.Equal(t, "a1", grader.got)
	assert.False(t, result.Passed)

	lp, err := s.LessonProgress("q1")
	require.NoError(t, err)
	assert.True(t, lp.IsCompleted, "a failed attempt still completes the quiz lesson")
	require.NotNil(t, lp.Passed)
	assert.False(t, *lp.Passed)
	assert.Equal(t, 1, lp.Attempts)
}

func TestSubmitQuizWithoutGrader(t *testing.T) {
	s := newSession(t, completed("v1"), new(recordingTransport))
	_, err := s.SubmitQuiz(context.Background(), "q1", nil)
	assert.Equal(t, domain.ErrNoGrader, err)
}

func TestScormBridge(t *testing.T) {
	ctx := context.Background()
	rt := new(recordingTransport)
	s := newSession(t, completed("v1", "q1"), rt)

	_, ok := s.ScormAPI("API")
	assert.False(t, ok, "nothing installed before the lesson opens")

	_, _, err := s.OpenLesson(ctx, "s1")
	require.NoError(t, err)

	api, ok := s.ScormAPI("API")
	require.True(t, ok)
	_, ok = s.ScormAPI("API_1484_11")
	assert.False(t, ok)

	assert.Equal(t, scorm.True, api.Call("LMSInitialize", ""))
	assert.Equal(t, scorm.True, api.Call("LMSSetValue", "cmi.suspend_data", "page=4"))
	assert.Equal(t, scorm.True, api.Call("LMSSetValue", "cmi.core.lesson_status", "completed"))
	assert.Equal(t, "completed", api.Call("LMSGetValue", "cmi.core.lesson_status"))

	lp, err := s.LessonProgress("s1")
	require.NoError(t, err)
	assert.True(t, lp.IsCompleted)

	assert.Equal(t, scorm.True, api.Call("LMSCommit", ""))
	lp, err = s.LessonProgress("s1")
	require.NoError(t, err)
	assert.Equal(t, "page=4", lp.SuspendData)

	require.NoError(t, s.CloseLesson(ctx, "s1"))
	_, ok = s.ScormAPI("API")
	assert.False(t, ok)
	assert.Equal(t, scorm.False, api.Call("LMSGetValue", "cmi.suspend_data"), "stale api is inert")

	assert.Eventually(t, func() bool {
		lp, ok := rt.delivered("s1")
		return ok && lp.SuspendData == "page=4"
	}, time.Second, 10*time.Millisecond)
}

func TestHeartbeatWhilePlaying(t *testing.T) {
	ctx := context.Background()
	rt := new(recordingTransport)
	cfg := testConfig()
	cfg.HeartbeatInterval = 20 * time.Millisecond
	s := newSession(t, nil, rt, WithConfig(cfg))

	_, _, err := s.OpenLesson(ctx, "v1")
	require.NoError(t, err)
	_, err = s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: 0.2})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, v := range rt.verbs() {
			if v == domain.VerbProgressed {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
	lp, ok := rt.delivered("v1")
	require.True(t, ok)
	assert.Equal(t, 20.0, lp.CompletionPercentage)
}

func TestCloseKeepsUndeliveredProgress(t *testing.T) {
	ctx := context.Background()
	outbox := syncer.NewMemoryOutbox()
	engine := syncer.NewEngine(new(recordingTransport), syncer.WithOutbox(outbox), syncer.WithOnline(false))
	s := New("sess-2", domain.Learner{ID: "u1"}, testCourse(), nil, engine, WithConfig(testConfig()))

	_, _, err := s.OpenLesson(ctx, "v1")
	require.NoError(t, err)
	_, err = s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: 0.4})
	require.NoError(t, err)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx), "close is idempotent")
	<-s.Done()

	items, err := outbox.Load(ctx)
	require.NoError(t, err)
	var progress *domain.ProgressDelta
	for _, it := range items {
		if it.Kind == syncer.KindProgress {
			progress = it.Progress
		}
	}
	require.NotNil(t, progress)
	assert.Equal(t, 40.0, progress.CompletionPercentage)

	_, err = s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: 0.5})
	assert.Equal(t, domain.ErrSessionClosed, err)
	_, err = s.Snapshot()
	assert.Equal(t, domain.ErrSessionClosed, err)
}

func TestSyncWarningListeners(t *testing.T) {
	s := newSession(t, nil, new(recordingTransport))

	var got []string
	unsubscribe := s.OnSyncWarning(func(active bool, message string) {
		got = append(got, message)
	})
	s.SyncWarning(true)
	s.SyncWarning(false)
	unsubscribe()
	s.SyncWarning(true)

	assert.Equal(t, []string{SyncWarningMessage, ""}, got)
}

func TestReconnectReplaysOnce(t *testing.T) {
	ctx := context.Background()
	rt := new(recordingTransport)
	engine := syncer.NewEngine(rt, syncer.WithOnline(false))
	s := New("sess-3", domain.Learner{ID: "u1"}, testCourse(), nil, engine, WithConfig(testConfig()))
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _, err := s.OpenLesson(ctx, "v1")
	require.NoError(t, err)
	for _, f := range []float64{0.3, 0.55, 0.4} {
		_, err = s.Signal(ctx, "v1", tracker.PlayheadSignal{Fraction: f})
		require.NoError(t, err)
		_, err = s.Save(ctx)
		assert.True(t, errors.Is(err, domain.ErrOffline))
	}
	_, ok := rt.delivered("v1")
	assert.False(t, ok, "nothing is sent while offline")

	_, err = s.SetOnline(ctx, true)
	require.NoError(t, err)

	rt.mu.Lock()
	var sent []domain.ProgressDelta
	for _, d := range rt.progress {
		if d.LessonID == "v1" {
			sent = append(sent, d)
		}
	}
	rt.mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, 55.0, sent[0].CompletionPercentage)
}

func TestResumedPDFKeepsSeenPages(t *testing.T) {
	ctx := context.Background()
	course := &domain.Course{ID: "c2", Modules: []*domain.Module{{ID: "m1", Lessons: []*domain.Lesson{
		{ID: "p1", Type: domain.LessonPDF, TotalPages: 10},
	}}}}
	snapshot := &domain.CourseProgressSnapshot{CourseID: "c2", LessonProgress: domain.ProgressMap{
		"p1": {LessonID: "p1", CompletionPercentage: 90, SeenPages: []int{1, 2, 3, 4, 5, 6, 7, 8, 9}},
	}}
	s := New("sess-4", domain.Learner{ID: "u1"}, course, snapshot, syncer.NewEngine(new(recordingTransport)), WithConfig(testConfig()))
	t.Cleanup(func() { _ = s.Close(ctx) })

	_, _, err := s.OpenLesson(ctx, "p1")
	require.NoError(t, err)
	delta, err := s.Signal(ctx, "p1", tracker.PageVisibilitySignal{Pages: []tracker.PageVisibility{{Page: 10, Ratio: 1}}})
	require.NoError(t, err)
	assert.Equal(t, 100.0, delta.After.CompletionPercentage)
	assert.True(t, delta.Completed)
}
