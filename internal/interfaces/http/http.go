package http

import (
	"crypto/subtle"
	"expvar"
	"fmt"
	"net/http"
	"net/http/pprof"
	"strings"

	"github.com/labstack/echo/v4"
	echo_middleware "github.com/labstack/echo/v4/middleware"
	"github.com/pot-code/course-playback/internal/domain"
	infra "github.com/pot-code/course-playback/internal/infrastructure"
	"github.com/pot-code/course-playback/internal/infrastructure/auth"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"github.com/pot-code/course-playback/internal/interfaces/http/middleware"
	"github.com/pot-code/course-playback/internal/session"
	"go.elastic.co/apm/module/apmechov4"
	"go.uber.org/zap"
)

// RevokedTokenPrefix kv key prefix of revoked learner tokens
const RevokedTokenPrefix = "jwt:revoked:"

type endpoint struct {
	apiVersion  string
	middlewares []echo.MiddlewareFunc
	groups      []*apiGroup
}

type apiGroup struct {
	prefix      string
	middlewares []echo.MiddlewareFunc
	routes      []*route
}

type route struct {
	method      string
	path        string
	handler     echo.HandlerFunc
	middlewares []echo.MiddlewareFunc
}

// Dependencies collaborators of the http surface
type Dependencies struct {
	Manager  *session.Manager
	Courses  domain.CourseUseCase
	Progress domain.ProgressUseCase
	// Statements nil when progress goes to a remote LMS, the backend routes are not served then
	Statements domain.StatementUseCase
	// DB and KV are probed by /healthz when set
	DB        driver.ITransactionalDB
	KV        driver.KeyValueDB
	JWTUtil   *auth.JWTUtil
	Validator validate.Validator
}

// NewServer create http transport server
func NewServer(option *infra.AppConfig, deps *Dependencies, logger *zap.Logger) *echo.Echo {
	app := echo.New()
	app.HideBanner = true
	app.HidePort = true

	inBlackList := func(string) (bool, error) { return false, nil }
	if deps.KV != nil {
		inBlackList = func(token string) (bool, error) {
			return deps.KV.Exists(RevokedTokenPrefix + token)
		}
	}
	jwtMiddleware := middleware.VerifyToken(deps.JWTUtil, &middleware.ValidateTokenOption{
		InBlackList: inBlackList,
	})

	registerLivenessProbe(app, deps.DB, deps.KV)
	if option.Env == "development" {
		registerProfileEndpoints(app)
	}
	app.Use(echo_middleware.RequestID())
	app.Use(middleware.SetTraceLogger(logger))
	app.Use(middleware.Logging(logger, &middleware.LoggingConfig{
		Skipper: func(e echo.Context) bool {
			return strings.HasPrefix(e.Request().RequestURI, "/healthz")
		},
	}))
	app.Use(middleware.ErrorHandling(
		&middleware.ErrorHandlingOption{
			Handler: func(c echo.Context, traceID string, err error) error {
				if err := renderError(c, traceID, err); err != nil {
					return err
				}
				if c.Response().Status >= http.StatusInternalServerError {
					logging.ExtractLoggerFromContext(c.Request().Context()).Error(err.Error())
				}
				return nil
			},
		},
	))
	app.Use(echo_middleware.Secure())
	if option.DevOP.APM {
		app.Use(apmechov4.Middleware())
	}
	app.Use(echo_middleware.CORS())
	app.Use(middleware.AbortRequest(&middleware.AbortRequestOption{
		Timeout: option.RequestTimeout,
		Skipper: func(c echo.Context) bool {
			return strings.Contains(c.Path(), "/ws/")
		},
	}))
	app.Use(middleware.NoRouteMatched())

	sessionHandler := NewSessionHandler(deps.Manager, deps.JWTUtil, deps.Validator)
	var backendHandler *BackendHandler
	if deps.Statements != nil {
		backendHandler = NewBackendHandler(deps.Courses, deps.Progress, deps.Statements)
	}
	createEndpoint(app, v1Endpoint(
		sessionHandler,
		backendHandler,
		jwtMiddleware,
		backendAuth(option.Sync.BackendToken),
	))

	printRoutes(app, logger)
	return app
}

// backendAuth service token check of the backend routes, open when token is empty
func backendAuth(token string) echo.MiddlewareFunc {
	return echo_middleware.KeyAuthWithConfig(echo_middleware.KeyAuthConfig{
		Skipper: func(echo.Context) bool { return token == "" },
		Validator: func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(token)) == 1, nil
		},
	})
}

func printRoutes(app *echo.Echo, logger *zap.Logger) {
	for _, route := range app.Routes() {
		if !strings.HasPrefix(route.Name, "github.com/labstack/echo") {
			name := route.Name
			trimIndex := strings.LastIndexByte(name, '/')
			logger.Debug("Registered route", zap.String("method", route.Method), zap.String("path", route.Path), zap.String("name", string(name[trimIndex+1:])))
		}
	}
}

func registerLivenessProbe(app *echo.Echo, db driver.ITransactionalDB, rdb driver.KeyValueDB) {
	app.GET("/healthz", func(c echo.Context) error {
		if db != nil && db.Ping() != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		if rdb != nil && rdb.Ping() != nil {
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusOK)
	})
}

func registerProfileEndpoints(app *echo.Echo) {
	expvarHandler := expvar.Handler()
	app.GET("/debug/vars", func(c echo.Context) error {
		expvarHandler.ServeHTTP(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/", func(c echo.Context) error {
		pprof.Index(c.Response().Writer, c.Request())
		return nil
	})
	app.GET("/debug/pprof/:name", func(c echo.Context) error {
		switch c.Param("name") {
		case "cmdline":
			pprof.Cmdline(c.Response().Writer, c.Request())
		case "profile":
			pprof.Profile(c.Response().Writer, c.Request())
		case "symbol":
			pprof.Symbol(c.Response().Writer, c.Request())
		case "trace":
			pprof.Trace(c.Response().Writer, c.Request())
		default:
			pprof.Handler(c.Param("name")).ServeHTTP(c.Response().Writer, c.Request())
		}
		return nil
	})
}

func createEndpoint(app *echo.Echo, def *endpoint) {
	type RESTMethod func(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route

	var root *echo.Group
	if strings.HasPrefix(def.apiVersion, "/") {
		root = app.Group(def.apiVersion, def.middlewares...)
	} else {
		root = app.Group("/"+def.apiVersion, def.middlewares...)
	}

	for _, group := range def.groups {
		echoGroup := root.Group(group.prefix, group.middlewares...)
		for _, api := range group.routes {
			var method RESTMethod
			switch api.method {
			case "GET":
				method = echoGroup.GET
			case "POST":
				method = echoGroup.POST
			case "PUT":
				method = echoGroup.PUT
			case "DELETE":
				method = echoGroup.DELETE
			default:
				panic(fmt.Errorf("createEndpoint: unknown method %s", api.method))
			}
			method(api.path, api.handler, api.middlewares...)
		}
	}
}
