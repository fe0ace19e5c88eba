package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/gate"
	"github.com/pot-code/course-playback/internal/infrastructure/auth"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"github.com/pot-code/course-playback/internal/infrastructure/ws"
	"github.com/pot-code/course-playback/internal/scorm"
	"github.com/pot-code/course-playback/internal/session"
	"github.com/pot-code/course-playback/internal/tracker"
)

// SessionHandler playback session operations of the host UI
type SessionHandler struct {
	manager   *session.Manager
	jwtUtil   *auth.JWTUtil
	validator validate.Validator
	now       func() time.Time
}

// NewSessionHandler ...
func NewSessionHandler(Manager *session.Manager, JWTUtil *auth.JWTUtil, Validator validate.Validator) *SessionHandler {
	return &SessionHandler{Manager, JWTUtil, Validator, time.Now}
}

type startSessionRequest struct {
	CourseID string `json:"course_id" validate:"required"`
}

type startSessionResponse struct {
	SessionID string                         `json:"session_id"`
	Course    *domain.Course                 `json:"course"`
	Snapshot  *domain.CourseProgressSnapshot `json:"snapshot"`
	LockState *gate.LockState                `json:"lock_state"`
}

type openLessonResponse struct {
	Lesson   *domain.Lesson        `json:"lesson"`
	Progress domain.LessonProgress `json:"progress"`
}

type signalRequest struct {
	Type   string          `json:"type" validate:"required,oneof=playhead ended seek pages fraction mark_complete"`
	Signal json.RawMessage `json:"signal"`
}

type signalResponse struct {
	Progress  domain.LessonProgress `json:"progress"`
	Changed   bool                  `json:"changed"`
	Completed bool                  `json:"completed"`
}

type quizRequest struct {
	Answers json.RawMessage `json:"answers" validate:"required"`
}

type connectivityRequest struct {
	Online *bool `json:"online" validate:"required"`
}

func (sh *SessionHandler) bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return validate.AsError([]*validate.FieldError{validate.NewFieldError("body", err.Error())})
	}
	return validate.AsError(sh.validator.Struct(v))
}

// session looks up the session and hides sessions owned by another learner
func (sh *SessionHandler) session(c echo.Context) (*session.Session, error) {
	s, err := sh.manager.Get(c.Param("id"))
	if err != nil {
		return nil, err
	}
	claims := sh.jwtUtil.GetContextToken(c)
	if claims == nil || s.Learner().ID != claims.UID {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// HandleStart POST /sessions
func (sh *SessionHandler) HandleStart(c echo.Context) error {
	req := new(startSessionRequest)
	if err := sh.bind(c, req); err != nil {
		return err
	}
	learner := sh.jwtUtil.GetContextToken(c).Learner()

	s, err := sh.manager.Start(c.Request().Context(), learner, req.CourseID)
	if err != nil {
		return err
	}
	snapshot, err := s.Snapshot()
	if err != nil {
		return err
	}
	lock, err := s.LockState()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, &startSessionResponse{
		SessionID: s.ID(),
		Course:    s.Course(),
		Snapshot:  snapshot,
		LockState: lock,
	})
}

// HandleLockState GET /sessions/:id/lock-state
func (sh *SessionHandler) HandleLockState(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	lock, err := s.LockState()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, lock)
}

// HandleSnapshot GET /sessions/:id/progress
func (sh *SessionHandler) HandleSnapshot(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	snapshot, err := s.Snapshot()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

// HandleLessonProgress GET /sessions/:id/progress/:lessonId
func (sh *SessionHandler) HandleLessonProgress(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	progress, err := s.LessonProgress(c.Param("lessonId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, progress)
}

// HandleOpenLesson POST /sessions/:id/lessons/:lessonId/open
func (sh *SessionHandler) HandleOpenLesson(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	lesson, progress, err := s.OpenLesson(c.Request().Context(), c.Param("lessonId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &openLessonResponse{lesson, progress})
}

// HandleSignal POST /sessions/:id/lessons/:lessonId/signal
func (sh *SessionHandler) HandleSignal(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	req := new(signalRequest)
	if err := sh.bind(c, req); err != nil {
		return err
	}
	sig, err := sh.decodeSignal(req)
	if err != nil {
		return err
	}
	delta, err := s.Signal(c.Request().Context(), c.Param("lessonId"), sig)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &signalResponse{
		Progress:  delta.After,
		Changed:   delta.Changed,
		Completed: delta.Completed,
	})
}

func (sh *SessionHandler) decodeSignal(req *signalRequest) (tracker.Signal, error) {
	var target interface{}
	switch req.Type {
	case "playhead":
		target = new(tracker.PlayheadSignal)
	case "ended":
		target = new(tracker.EndedSignal)
	case "seek":
		target = new(tracker.SeekSignal)
	case "pages":
		target = new(tracker.PageVisibilitySignal)
	case "fraction":
		target = new(tracker.FractionSignal)
	case "mark_complete":
		target = new(tracker.MarkCompleteSignal)
	}
	if len(req.Signal) > 0 {
		if err := json.Unmarshal(req.Signal, target); err != nil {
			return nil, validate.AsError([]*validate.FieldError{validate.NewFieldError("signal", err.Error())})
		}
	}
	if err := validate.AsError(sh.validator.Struct(target)); err != nil {
		return nil, err
	}
	return finishSignal(target, sh.now()), nil
}

// finishSignal value form of a decoded signal with a missing timestamp set to now
func finishSignal(target interface{}, now time.Time) tracker.Signal {
	at := func(t time.Time) time.Time {
		if t.IsZero() {
			return now
		}
		return t
	}
	switch v := target.(type) {
	case *tracker.PlayheadSignal:
		v.At = at(v.At)
		return *v
	case *tracker.EndedSignal:
		v.At = at(v.At)
		return *v
	case *tracker.SeekSignal:
		v.At = at(v.At)
		return *v
	case *tracker.PageVisibilitySignal:
		v.At = at(v.At)
		return *v
	case *tracker.FractionSignal:
		v.At = at(v.At)
		return *v
	case *tracker.MarkCompleteSignal:
		v.At = at(v.At)
		return *v
	}
	return nil
}

// HandleSubmitQuiz POST /sessions/:id/lessons/:lessonId/quiz
func (sh *SessionHandler) HandleSubmitQuiz(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	req := new(quizRequest)
	if err := sh.bind(c, req); err != nil {
		return err
	}
	result, err := s.SubmitQuiz(c.Request().Context(), c.Param("lessonId"), req.Answers)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

// HandleQuizResult POST /sessions/:id/lessons/:lessonId/quiz-result, result graded by the host
func (sh *SessionHandler) HandleQuizResult(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	req := new(tracker.QuizResultSignal)
	if err := sh.bind(c, req); err != nil {
		return err
	}
	delta, err := s.RecordQuizResult(c.Request().Context(), c.Param("lessonId"), session.GradeResult{
		Passed:     req.Passed,
		Percentage: req.Percentage,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, &signalResponse{
		Progress:  delta.After,
		Changed:   delta.Changed,
		Completed: delta.Completed,
	})
}

// HandleCloseLesson POST /sessions/:id/lessons/:lessonId/close
func (sh *SessionHandler) HandleCloseLesson(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	if err := s.CloseLesson(c.Request().Context(), c.Param("lessonId")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleConnectivity POST /sessions/:id/connectivity
func (sh *SessionHandler) HandleConnectivity(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	req := new(connectivityRequest)
	if err := sh.bind(c, req); err != nil {
		return err
	}
	ack, err := s.SetOnline(c.Request().Context(), *req.Online)
	if err != nil && !domain.IsPermanentSyncError(err) {
		// delivery problems surface through the sync warning, the state change itself succeeded
		return c.JSON(http.StatusAccepted, ack)
	}
	return c.JSON(http.StatusOK, ack)
}

// HandleSave POST /sessions/:id/save
func (sh *SessionHandler) HandleSave(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	ack, err := s.Save(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusAccepted, ack)
	}
	return c.JSON(http.StatusOK, ack)
}

// HandleClose DELETE /sessions/:id
func (sh *SessionHandler) HandleClose(c echo.Context) error {
	if _, err := sh.session(c); err != nil {
		return err
	}
	if err := sh.manager.Close(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

type streamFrame struct {
	Type     string                 `json:"type"`
	Progress *session.ProgressEvent `json:"progress,omitempty"`
	Warning  *warningFrame          `json:"warning,omitempty"`
}

type warningFrame struct {
	Active  bool   `json:"active"`
	Message string `json:"message"`
}

// HandleProgressStream GET /ws/sessions/:id, pushes progress changes and sync warnings
func (sh *SessionHandler) HandleProgressStream(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	return ws.WithHeartbeat(func(ctx context.Context, conn *ws.Conn) error {
		offProgress := s.OnProgressChanged(func(e session.ProgressEvent) {
			conn.Send(&streamFrame{Type: "progress", Progress: &e})
		})
		defer offProgress()
		offWarning := s.OnSyncWarning(func(active bool, message string) {
			conn.Send(&streamFrame{Type: "sync_warning", Warning: &warningFrame{active, message}})
		})
		defer offWarning()

		readErr := make(chan error, 1)
		go func() {
			for {
				var discard json.RawMessage
				if err := conn.ReadJSON(&discard); err != nil {
					readErr <- err
					return
				}
			}
		}()
		select {
		case err := <-readErr:
			return err
		case <-s.Done():
			conn.Send(&streamFrame{Type: "closed"})
			return nil
		case <-conn.Done():
			return ws.ErrConnClosed
		}
	})(c)
}

type scormCall struct {
	ID     int64    `json:"id"`
	API    string   `json:"api"`
	Method string   `json:"method"`
	Args   []string `json:"args"`
}

type scormReply struct {
	ID     int64  `json:"id"`
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

// HandleScormBridge GET /ws/sessions/:id/scorm, relays content package calls
// to the runtime installed for the open lesson
func (sh *SessionHandler) HandleScormBridge(c echo.Context) error {
	s, err := sh.session(c)
	if err != nil {
		return err
	}
	return ws.WithHeartbeat(func(ctx context.Context, conn *ws.Conn) error {
		for {
			var call scormCall
			if err := conn.ReadJSON(&call); err != nil {
				return err
			}
			api, ok := s.ScormAPI(call.API)
			if !ok {
				conn.Send(&scormReply{ID: call.ID, Result: scorm.False, Error: "api not installed"})
				continue
			}
			conn.Send(&scormReply{ID: call.ID, Result: api.Call(call.Method, call.Args...)})
		}
	})(c)
}
