package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/uuid"
	"github.com/pot-code/course-playback/internal/syncer"
	"go.elastic.co/apm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// OutboxFactory durable outbox of a learner's course, stable across sessions
type OutboxFactory func(learnerID, courseID string) syncer.Outbox

// ManagerOption manager dependencies beside the required ones
type ManagerOption struct {
	Config            Config
	Grader            Grader
	Outbox            OutboxFactory
	BatchSize         int
	WarnAfterFailures int
	Logger            *zap.Logger
}

// Manager live sessions by id
type Manager struct {
	courses   domain.CourseUseCase
	progress  domain.ProgressUseCase
	transport syncer.Transport
	ids       uuid.Generator
	option    ManagerOption

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager create a session manager
func NewManager(
	courses domain.CourseUseCase,
	progress domain.ProgressUseCase,
	transport syncer.Transport,
	ids uuid.Generator,
	option *ManagerOption,
) *Manager {
	opt := ManagerOption{Config: DefaultConfig()}
	if option != nil {
		opt = *option
	}
	if opt.Logger == nil {
		opt.Logger = zap.NewNop()
	}
	if opt.Outbox == nil {
		opt.Outbox = func(string, string) syncer.Outbox { return syncer.NewMemoryOutbox() }
	}
	return &Manager{
		courses:   courses,
		progress:  progress,
		transport: transport,
		ids:       ids,
		option:    opt,
		sessions:  make(map[string]*Session),
	}
}

// Start load the course and the learner's progress, restore undelivered items
// and start a session
func (m *Manager) Start(ctx context.Context, learner domain.Learner, courseID string) (*Session, error) {
	apmSpan, ctx := apm.StartSpan(ctx, "Manager.Start", "service")
	defer apmSpan.End()

	course, err := m.courses.GetCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}
	snapshot, err := m.progress.GetSnapshot(ctx, learner.ID, courseID)
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	id, err := m.ids.Generate()
	if err != nil {
		return nil, err
	}

	logger := m.option.Logger.Named("session")
	var sess *Session
	engine := syncer.NewEngine(m.transport,
		syncer.WithOutbox(m.option.Outbox(learner.ID, courseID)),
		syncer.WithLogger(logger.Named("syncer").With(zap.String("session.id", id))),
		syncer.WithBatchSize(m.option.BatchSize),
		syncer.WithWarning(m.option.WarnAfterFailures,
			func(int, error) { sess.SyncWarning(true) },
			func() { sess.SyncWarning(false) },
		),
	)
	restored, err := engine.Restore(ctx)
	if err != nil {
		logger.Warn("failed to restore outbox", zap.String("session.id", id), zap.Error(err))
	}

	sess = New(id, learner, course, snapshot, engine,
		WithConfig(m.option.Config),
		WithGrader(m.option.Grader),
		WithLogger(logger),
	)
	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	logger.Info("session started",
		zap.String("session.id", id),
		zap.String("learner.id", learner.ID),
		zap.String("course.id", courseID),
		zap.Int("sync.restored", restored))
	return sess, nil
}

// Get live session by id
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return s, nil
}

// Close tear down and forget a session
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return domain.ErrSessionNotFound
	}
	return s.Close(ctx)
}

// CloseAll tear down every session, used on shutdown
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs error
	for _, s := range sessions {
		errs = multierr.Append(errs, s.Close(ctx))
	}
	return errs
}
