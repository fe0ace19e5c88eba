package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pot-code/course-playback/internal/course"
	"github.com/pot-code/course-playback/internal/domain"
	infra "github.com/pot-code/course-playback/internal/infrastructure"
	"github.com/pot-code/course-playback/internal/infrastructure/auth"
	"github.com/pot-code/course-playback/internal/infrastructure/driver"
	"github.com/pot-code/course-playback/internal/infrastructure/lms"
	"github.com/pot-code/course-playback/internal/infrastructure/logging"
	"github.com/pot-code/course-playback/internal/infrastructure/uuid"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	ihttp "github.com/pot-code/course-playback/internal/interfaces/http"
	"github.com/pot-code/course-playback/internal/progress"
	"github.com/pot-code/course-playback/internal/session"
	"github.com/pot-code/course-playback/internal/statement"
	"github.com/pot-code/course-playback/internal/syncer"
	"github.com/spf13/pflag"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig(os.Args[1:])
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	infra.LogConfig(logger, option)

	rdb := driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password)
	defer rdb.Close()
	if err := rdb.Ping(); err != nil {
		logger.Warn("kv store unreachable", zap.Error(err))
	}

	validator := validate.NewValidator(option.Locale)
	jwtUtil := auth.NewJWTUtil(option.Security.JWTMethod, option.Security.JWTSecret, option.Security.TokenName)

	var (
		dbConn     driver.ITransactionalDB
		courses    domain.CourseUseCase
		progressUC domain.ProgressUseCase
		statements domain.StatementUseCase
		transport  syncer.Transport
		grader     session.Grader
	)
	switch option.Sync.Mode {
	case infra.SyncModeHTTP:
		client := lms.NewClient(option.Sync.BackendURL, option.Sync.RequestTimeout, lms.WithToken(option.Sync.BackendToken))
		courses, progressUC, transport, grader = client, client, client, client
		logger.Info("syncing with remote LMS", zap.String("lms.url", option.Sync.BackendURL))
	default:
		dbConn, err = driver.GetDBConnection(&driver.DBConfig{
			User:     option.Database.User,
			Password: option.Database.Password,
			MaxConn:  option.Database.MaxConn,
			Protocol: option.Database.Protocol,
			Driver:   option.Database.Driver,
			Host:     option.Database.Host,
			Port:     option.Database.Port,
			Query:    option.Database.Query,
			Schema:   option.Database.Schema,
		})
		if err != nil {
			logger.Fatal("Failed to create DB connection", zap.Error(err))
		}
		defer dbConn.Close(context.Background())
		logger.Debug("Create db connection instance", zap.String("db.driver", option.Database.Driver),
			zap.String("db.schema", option.Database.Schema),
			zap.String("db.host", option.Database.Host),
		)

		CourseUseCase := course.NewCourseUseCase(course.NewCourseRepository(dbConn), rdb, option.KVStore.CourseTTL, validator)
		ProgressUseCase := progress.NewProgressUseCase(progress.NewProgressRepository(dbConn), CourseUseCase, validator)
		StatementUseCase := statement.NewStatementUseCase(statement.NewStatementRepository(dbConn), validator)
		courses, progressUC, statements = CourseUseCase, ProgressUseCase, StatementUseCase
		transport = syncer.NewLocalTransport(ProgressUseCase, StatementUseCase)
	}
	if option.Grading.URL != "" {
		grader = lms.NewClient(option.Grading.URL, option.Sync.RequestTimeout, lms.WithToken(option.Sync.BackendToken))
	}

	manager := session.NewManager(courses, progressUC, transport, uuid.NewNanoIDGenerator(option.Security.IDLength), &session.ManagerOption{
		Config: session.Config{
			HeartbeatInterval: option.Sync.HeartbeatInterval,
			SyncInterval:      option.Sync.SyncInterval,
			RequestTimeout:    option.Sync.RequestTimeout,
			SuspendDataLimit:  option.Scorm.SuspendDataLimit,
			ActivityBase:      option.Xapi.ActivityBase,
		},
		Grader: grader,
		Outbox: func(learnerID, courseID string) syncer.Outbox {
			return syncer.NewRedisOutbox(rdb, option.KVStore.OutboxPrefix+learnerID+":"+courseID, option.KVStore.OutboxTTL)
		},
		BatchSize:         option.Sync.BatchSize,
		WarnAfterFailures: option.Sync.WarnAfterFailures,
		Logger:            logger.Named("session"),
	})

	app := ihttp.NewServer(option, &ihttp.Dependencies{
		Manager:    manager,
		Courses:    courses,
		Progress:   progressUC,
		Statements: statements,
		DB:         dbConn,
		KV:         rdb,
		JWTUtil:    jwtUtil,
		Validator:  validator,
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", option.Host, option.Port)
		logger.Info("Start listening", zap.String("server.address", addr))
		if err := app.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		logger.Info("Shutting down, flushing live sessions")
		err := app.Shutdown(shutdownCtx)
		return multierr.Append(err, manager.CloseAll(shutdownCtx))
	})
	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
}
