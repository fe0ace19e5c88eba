package http

import (
	"github.com/labstack/echo/v4"
)

func v1Endpoint(
	SessionHandler *SessionHandler,
	BackendHandler *BackendHandler,
	jwtMiddleware echo.MiddlewareFunc,
	backendMiddleware echo.MiddlewareFunc,
) *endpoint {
	groups := []*apiGroup{
		{
			prefix:      "/sessions",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware},
			routes: []*route{
				{"POST", "", SessionHandler.HandleStart, nil},
				{"GET", "/:id/lock-state", SessionHandler.HandleLockState, nil},
				{"GET", "/:id/progress", SessionHandler.HandleSnapshot, nil},
				{"GET", "/:id/progress/:lessonId", SessionHandler.HandleLessonProgress, nil},
				{"POST", "/:id/lessons/:lessonId/open", SessionHandler.HandleOpenLesson, nil},
				{"POST", "/:id/lessons/:lessonId/signal", SessionHandler.HandleSignal, nil},
				{"POST", "/:id/lessons/:lessonId/quiz", SessionHandler.HandleSubmitQuiz, nil},
				{"POST", "/:id/lessons/:lessonId/quiz-result", SessionHandler.HandleQuizResult, nil},
				{"POST", "/:id/lessons/:lessonId/close", SessionHandler.HandleCloseLesson, nil},
				{"POST", "/:id/connectivity", SessionHandler.HandleConnectivity, nil},
				{"POST", "/:id/save", SessionHandler.HandleSave, nil},
				{"DELETE", "/:id", SessionHandler.HandleClose, nil},
			},
		},
		{
			prefix:      "/ws/sessions",
			middlewares: []echo.MiddlewareFunc{jwtMiddleware},
			routes: []*route{
				{"GET", "/:id", SessionHandler.HandleProgressStream, nil},
				{"GET", "/:id/scorm", SessionHandler.HandleScormBridge, nil},
			},
		},
	}
	if BackendHandler != nil {
		groups = append(groups, &apiGroup{
			prefix:      "/backend",
			middlewares: []echo.MiddlewareFunc{backendMiddleware},
			routes: []*route{
				{"GET", "/courses/:id", BackendHandler.HandleGetCourse, nil},
				{"GET", "/learners/:learnerId/courses/:courseId/progress", BackendHandler.HandleGetSnapshot, nil},
				{"POST", "/progress/deltas", BackendHandler.HandleApplyDeltas, nil},
				{"POST", "/xapi/statements", BackendHandler.HandleRecordStatements, nil},
			},
		})
	}
	return &endpoint{
		apiVersion: "api/v1",
		groups:     groups,
	}
}
