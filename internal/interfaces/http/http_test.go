package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/domain"
	infra "github.com/pot-code/course-playback/internal/infrastructure"
	"github.com/pot-code/course-playback/internal/infrastructure/auth"
	"github.com/pot-code/course-playback/internal/infrastructure/uuid"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"github.com/pot-code/course-playback/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubCourses struct{}

func (stubCourses) GetCourse(ctx context.Context, courseID string) (*domain.Course, error) {
	if courseID != "c1" {
		return nil, domain.ErrCourseNotFound
	}
	return &domain.Course{ID: "c1", Title: "Go", Modules: []*domain.Module{{
		ID: "m1",
		Lessons: []*domain.Lesson{
			{ID: "v1", Type: domain.LessonVideo, DurationSeconds: 100},
			{ID: "q1", Type: domain.LessonQuiz},
		},
	}}}, nil
}

type stubProgress struct{}

func (stubProgress) GetSnapshot(ctx context.Context, learnerID, courseID string) (*domain.CourseProgressSnapshot, error) {
	return &domain.CourseProgressSnapshot{CourseID: courseID, LearnerID: learnerID, LessonProgress: make(domain.ProgressMap)}, nil
}

func (stubProgress) ApplyDeltas(ctx context.Context, deltas []domain.ProgressDelta) error {
	return nil
}

type stubStatements struct {
	validator validate.Validator
}

func (ss stubStatements) Record(ctx context.Context, stmts []domain.XapiStatement) error {
	for i := range stmts {
		if err := validate.AsError(ss.validator.Struct(&stmts[i])); err != nil {
			return err
		}
	}
	return nil
}

type nopTransport struct{}

func (nopTransport) SendProgress(ctx context.Context, deltas []domain.ProgressDelta) error {
	return nil
}

func (nopTransport) SendStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	return nil
}

type testServer struct {
	app     *echo.Echo
	manager *session.Manager
	jwt     *auth.JWTUtil
}

func newTestServer(t *testing.T) *testServer {
	config := new(infra.AppConfig)
	config.Env = "production"
	config.RequestTimeout = time.Second
	config.Sync.BackendToken = "svc"

	validator := validate.NewValidator("en")
	manager := session.NewManager(stubCourses{}, stubProgress{}, nopTransport{}, uuid.NewNanoIDGenerator(12), &session.ManagerOption{
		Config: session.Config{
			HeartbeatInterval: time.Hour,
			SyncInterval:      time.Hour,
			RequestTimeout:    time.Second,
		},
	})
	t.Cleanup(func() { manager.CloseAll(context.Background()) })

	ju := auth.NewJWTUtil("HS256", "secret", "player_token")
	app := NewServer(config, &Dependencies{
		Manager:    manager,
		Courses:    stubCourses{},
		Progress:   stubProgress{},
		Statements: stubStatements{validator},
		JWTUtil:    ju,
		Validator:  validator,
	}, zap.NewNop())
	return &testServer{app, manager, ju}
}

func (ts *testServer) token(t *testing.T, uid string) string {
	token, err := ts.jwt.Sign(&auth.LearnerClaims{
		UID:            uid,
		Name:           "Ada",
		StandardClaims: jwt.StandardClaims{ExpiresAt: time.Now().Add(time.Hour).Unix()},
	})
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.app.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func (ts *testServer) start(t *testing.T, token string) string {
	rec := ts.do(http.MethodPost, "/api/v1/sessions", token, `{"course_id":"c1"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var started struct {
		SessionID string `json:"session_id"`
		LockState struct {
			Lessons []struct {
				LessonID string `json:"lesson_id"`
				Locked   bool   `json:"locked"`
			} `json:"lessons"`
		} `json:"lock_state"`
	}
	decode(t, rec, &started)
	require.Len(t, started.LockState.Lessons, 2)
	assert.False(t, started.LockState.Lessons[0].Locked)
	assert.True(t, started.LockState.Lessons[1].Locked)
	return started.SessionID
}

func TestSessionRequiresToken(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/v1/sessions", "", `{"course_id":"c1"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartUnknownCourse(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(http.MethodPost, "/api/v1/sessions", ts.token(t, "u1"), `{"course_id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/sessions", ts.token(t, "u1"), `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body RESTValidationError
	decode(t, rec, &body)
	assert.NotEmpty(t, body.InvalidParams)
}

func TestPlaybackFlow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")
	id := ts.start(t, token)
	base := "/api/v1/sessions/" + id

	rec := ts.do(http.MethodPost, base+"/lessons/q1/open", token, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	var locked RESTGateError
	decode(t, rec, &locked)
	assert.Equal(t, "lesson_locked", locked.Type)
	assert.Equal(t, "q1", locked.Violation.LessonID)

	rec = ts.do(http.MethodPost, base+"/lessons/v1/open", token, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, base+"/lessons/v1/signal", token, `{"type":"seek","signal":{"fraction":0.5}}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	var seek RESTSeekError
	decode(t, rec, &seek)
	assert.Equal(t, 0.0, seek.Violation.SnapBackTo)

	rec = ts.do(http.MethodPost, base+"/lessons/v1/signal", token, `{"type":"playhead","signal":{"fraction":0.97,"seconds":97}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var signalled signalResponse
	decode(t, rec, &signalled)
	assert.True(t, signalled.Completed)
	assert.True(t, signalled.Progress.IsCompleted)

	rec = ts.do(http.MethodGet, base+"/progress/v1", token, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var progress domain.LessonProgress
	decode(t, rec, &progress)
	assert.Equal(t, 97.0, progress.CompletionPercentage)

	rec = ts.do(http.MethodPost, base+"/lessons/q1/open", token, "")
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(http.MethodPost, base+"/save", token, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodDelete, base, token, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(http.MethodGet, base+"/lock-state", token, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSignalValidation(t *testing.T) {
	ts := newTestServer(t)
	token := ts.token(t, "u1")
	base := "/api/v1/sessions/" + ts.start(t, token)
	require.Equal(t, http.StatusOK, ts.do(http.MethodPost, base+"/lessons/v1/open", token, "").Code)

	for name, body := range map[string]string{
		"unknown type":   `{"type":"teleport"}`,
		"out of range":   `{"type":"playhead","signal":{"fraction":1.5}}`,
		"malformed body": `{"type":"playhead","signal":{"fraction":"half"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := ts.do(http.MethodPost, base+"/lessons/v1/signal", token, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestSessionIsPrivate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.start(t, ts.token(t, "u1"))

	rec := ts.do(http.MethodGet, "/api/v1/sessions/"+id+"/lock-state", ts.token(t, "u2"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(http.MethodDelete, "/api/v1/sessions/"+id, ts.token(t, "u2"), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBackendRoutes(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/backend/courses/c1", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(http.MethodGet, "/api/v1/backend/courses/c1", "svc", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var course domain.Course
	decode(t, rec, &course)
	assert.Equal(t, 2, course.LessonCount())

	rec = ts.do(http.MethodGet, "/api/v1/backend/learners/u1/courses/c1/progress", "svc", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/backend/xapi/statements", "svc", `[{"id":"nope","verb":"watched"}]`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(http.MethodPost, "/api/v1/backend/progress/deltas", "svc", `{"deltas":[]}`)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
