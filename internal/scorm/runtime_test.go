package scorm

import (
	"strings"
	"testing"
	"time"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

type recorder struct {
	events []Event
}

func (rec *recorder) handle(e Event) {
	rec.events = append(rec.events, e)
}

func (rec *recorder) count(kind EventKind) int {
	n := 0
	for _, e := range rec.events {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

func newRuntime(t *testing.T, version domain.ScormVersion, prior domain.LessonProgress, options ...RuntimeOption) (*Runtime, *recorder) {
	t.Helper()
	rec := new(recorder)
	lesson := &domain.Lesson{ID: "s1", Type: domain.LessonScorm, ScormVersion: version}
	options = append(options, WithEventHandler(rec.handle), WithRuntimeClock(func() time.Time { return fixedNow }))
	rt, err := NewRuntime(lesson, prior, options...)
	require.NoError(t, err)
	return rt, rec
}

func TestSetValueBeforeInitialize(t *testing.T) {
	for _, tt := range []struct {
		version domain.ScormVersion
		method  string
		element string
	}{
		{domain.Scorm12, "LMSSetValue", "cmi.core.lesson_status"},
		{domain.Scorm2004, "SetValue", "cmi.completion_status"},
	} {
		t.Run(string(tt.version), func(t *testing.T) {
			rt, rec := newRuntime(t, tt.version, domain.LessonProgress{})
			before := rt.Snapshot()

			assert.Equal(t, False, rt.Call(tt.method, tt.element, "completed"))
			assert.Equal(t, before, rt.Snapshot())
			assert.Empty(t, rec.events)
			assert.Equal(t, NoError, rt.GetLastError())
		})
	}
}

func TestInitializeTwice(t *testing.T) {
	rt, _ := newRuntime(t, domain.Scorm12, domain.LessonProgress{})
	assert.Equal(t, True, rt.Call("LMSInitialize", ""))
	assert.Equal(t, False, rt.Call("LMSInitialize", ""))
	assert.Equal(t, Initialized, rt.State())
}

func TestTerminateCommitsOnce(t *testing.T) {
	rt, rec := newRuntime(t, domain.Scorm2004, domain.LessonProgress{})
	require.Equal(t, True, rt.Call("Initialize", ""))
	require.Equal(t, True, rt.Call("SetValue", "cmi.suspend_data", "chapter=3"))

	assert.Equal(t, True, rt.Call("Terminate", ""))
	assert.Equal(t, False, rt.Call("Terminate", ""))
	assert.Equal(t, Terminated, rt.State())
	require.Equal(t, 1, rec.count(EventCommit))

	sig := rec.events[len(rec.events)-1].Signal
	require.NotNil(t, sig.SuspendData)
	assert.Equal(t, "chapter=3", *sig.SuspendData)
	assert.False(t, sig.Completed)

	assert.Equal(t, False, rt.Call("SetValue", "cmi.suspend_data", "late"))
	assert.Equal(t, False, rt.Call("Commit", ""))
	assert.Equal(t, "", rt.Call("GetValue", "cmi.suspend_data"))
}

func TestCompletionValues(t *testing.T) {
	tests := []struct {
		version   domain.ScormVersion
		element   string
		value     string
		completes bool
	}{
		{domain.Scorm12, "cmi.core.lesson_status", "completed", true},
		{domain.Scorm12, "cmi.core.lesson_status", "passed", true},
		{domain.Scorm12, "cmi.core.lesson_status", "incomplete", false},
		{domain.Scorm12, "cmi.completion_status", "completed", false},
		{domain.Scorm2004, "cmi.completion_status", "completed", true},
		{domain.Scorm2004, "cmi.success_status", "passed", true},
		{domain.Scorm2004, "cmi.success_status", "failed", false},
		{domain.Scorm2004, "cmi.core.lesson_status", "completed", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.version)+" "+tt.element+"="+tt.value, func(t *testing.T) {
			rt, rec := newRuntime(t, tt.version, domain.LessonProgress{})
			require.Equal(t, True, rt.Initialize())
			assert.Equal(t, True, rt.SetValue(tt.element, tt.value))
			assert.Equal(t, tt.value, rt.GetValue(tt.element))
			if tt.completes {
				require.Equal(t, 1, rec.count(EventStatus))
				assert.True(t, rec.events[0].Signal.Completed)
			} else {
				assert.Zero(t, rec.count(EventStatus))
			}
		})
	}
}

func TestScoreForwarded(t *testing.T) {
	rt, rec := newRuntime(t, domain.Scorm12, domain.LessonProgress{})
	require.Equal(t, True, rt.Initialize())

	assert.Equal(t, True, rt.SetValue("cmi.core.score.raw", "not a number"))
	assert.Zero(t, rec.count(EventScore))

	assert.Equal(t, True, rt.SetValue("cmi.core.score.raw", "42"))
	require.Equal(t, 1, rec.count(EventScore))
	assert.Equal(t, 42.0, *rec.events[0].Signal.Score)
	assert.False(t, rec.events[0].Signal.Completed)

	assert.Equal(t, True, rt.SetValue("cmi.core.score.max", "50"))
	require.Equal(t, 2, rec.count(EventScore))
	assert.InDelta(t, 84, *rec.events[1].Signal.Score, 1e-9)
}

func TestSuspendDataPreseeded(t *testing.T) {
	rt, _ := newRuntime(t, domain.Scorm2004, domain.LessonProgress{SuspendData: "slide=12"}, WithLearner("u1", "Ada"))
	snapshot := rt.Snapshot()
	assert.Equal(t, "slide=12", snapshot["cmi.suspend_data"])
	assert.Equal(t, "resume", snapshot["cmi.entry"])

	require.Equal(t, True, rt.Initialize())
	assert.Equal(t, "slide=12", rt.GetValue("cmi.suspend_data"))
	assert.Equal(t, "u1", rt.GetValue("cmi.learner_id"))
	assert.Equal(t, "", rt.GetValue("cmi.interactions.0.id"))

	fresh, _ := newRuntime(t, domain.Scorm12, domain.LessonProgress{})
	require.Equal(t, True, fresh.Initialize())
	assert.Equal(t, "ab-initio", fresh.GetValue("cmi.core.entry"))
}

func TestSuspendLimit(t *testing.T) {
	rt, _ := newRuntime(t, domain.Scorm12, domain.LessonProgress{}, WithSuspendLimit(8))
	require.Equal(t, True, rt.Initialize())
	assert.Equal(t, True, rt.SetValue("cmi.suspend_data", "12345678"))
	assert.Equal(t, False, rt.SetValue("cmi.suspend_data", strings.Repeat("x", 9)))
	assert.Equal(t, "12345678", rt.GetValue("cmi.suspend_data"))
}

func TestUnknownMethodAndMalformedElement(t *testing.T) {
	rt, _ := newRuntime(t, domain.Scorm12, domain.LessonProgress{})
	assert.Equal(t, False, rt.Call("Initialize"), "2004 name on a 1.2 runtime")
	require.Equal(t, True, rt.Call("LMSInitialize"))
	assert.Equal(t, False, rt.Call("LMSSetValue", "nav.request", "continue"))
	assert.Equal(t, NoError, rt.Call("LMSGetLastError"))
	assert.Equal(t, "No error", rt.Call("LMSGetErrorString", "0"))
	assert.Equal(t, "", rt.Call("LMSGetDiagnostic", "0"))
}

func TestCommitReportsStatus(t *testing.T) {
	rt, rec := newRuntime(t, domain.Scorm12, domain.LessonProgress{})
	require.Equal(t, True, rt.Call("LMSInitialize", ""))
	require.Equal(t, True, rt.Call("LMSSetValue", "cmi.core.lesson_status", "passed"))
	require.Equal(t, True, rt.Call("LMSSetValue", "cmi.core.score.raw", "90"))
	require.Equal(t, True, rt.Call("LMSCommit", ""))

	commit := rec.events[len(rec.events)-1]
	assert.Equal(t, EventCommit, commit.Kind)
	assert.Equal(t, "s1", commit.LessonID)
	assert.True(t, commit.Signal.Completed)
	assert.Equal(t, 90.0, *commit.Signal.Score)
	assert.Nil(t, commit.Signal.SuspendData)
	assert.Equal(t, fixedNow, commit.Signal.At)
}

func TestNewRuntimeRejectsOtherLessons(t *testing.T) {
	_, err := NewRuntime(&domain.Lesson{ID: "v", Type: domain.LessonVideo}, domain.LessonProgress{})
	assert.Equal(t, domain.ErrNotScormLesson, err)

	_, err = NewRuntime(&domain.Lesson{ID: "s", Type: domain.LessonScorm, ScormVersion: "1.3"}, domain.LessonProgress{})
	assert.Error(t, err)
}
