package http

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
)

// BackendHandler catalog, progress store and xAPI sink, the collaborators a
// remote player instance reaches in http sync mode
type BackendHandler struct {
	courses    domain.CourseUseCase
	progress   domain.ProgressUseCase
	statements domain.StatementUseCase
}

// NewBackendHandler ...
func NewBackendHandler(
	CourseUseCase domain.CourseUseCase,
	ProgressUseCase domain.ProgressUseCase,
	StatementUseCase domain.StatementUseCase,
) *BackendHandler {
	return &BackendHandler{CourseUseCase, ProgressUseCase, StatementUseCase}
}

type applyDeltasRequest struct {
	Deltas []domain.ProgressDelta `json:"deltas"`
}

func bindBody(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return validate.AsError([]*validate.FieldError{validate.NewFieldError("body", err.Error())})
	}
	return nil
}

// HandleGetCourse GET /courses/:id
func (bh *BackendHandler) HandleGetCourse(c echo.Context) error {
	course, err := bh.courses.GetCourse(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, course)
}

// HandleGetSnapshot GET /learners/:learnerId/courses/:courseId/progress
func (bh *BackendHandler) HandleGetSnapshot(c echo.Context) error {
	snapshot, err := bh.progress.GetSnapshot(c.Request().Context(), c.Param("learnerId"), c.Param("courseId"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}

// HandleApplyDeltas POST /progress/deltas
func (bh *BackendHandler) HandleApplyDeltas(c echo.Context) error {
	req := new(applyDeltasRequest)
	if err := bindBody(c, req); err != nil {
		return err
	}
	if err := bh.progress.ApplyDeltas(c.Request().Context(), req.Deltas); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleRecordStatements POST /xapi/statements
func (bh *BackendHandler) HandleRecordStatements(c echo.Context) error {
	var stmts []domain.XapiStatement
	if err := json.NewDecoder(c.Request().Body).Decode(&stmts); err != nil {
		return validate.AsError([]*validate.FieldError{validate.NewFieldError("body", err.Error())})
	}
	if err := bh.statements.Record(c.Request().Context(), stmts); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
