package syncer

import (
	"context"
	"errors"

	"github.com/pot-code/course-playback/internal/domain"
)

// Transport delivers queued payloads to the progress store and the xAPI sink.
//
// Implementations report backend rejections as *domain.SyncError; any other
// error is treated as transient.
type Transport interface {
	SendProgress(ctx context.Context, deltas []domain.ProgressDelta) error
	SendStatements(ctx context.Context, stmts []domain.XapiStatement) error
}

// LocalTransport delivers straight into the in-process use cases
type LocalTransport struct {
	Progress   domain.ProgressUseCase
	Statements domain.StatementUseCase
}

var _ Transport = &LocalTransport{}

// NewLocalTransport create a transport backed by local use cases
func NewLocalTransport(progress domain.ProgressUseCase, statements domain.StatementUseCase) *LocalTransport {
	return &LocalTransport{
		Progress:   progress,
		Statements: statements,
	}
}

// SendProgress implement Transport
func (lt *LocalTransport) SendProgress(ctx context.Context, deltas []domain.ProgressDelta) error {
	return classifyLocal(lt.Progress.ApplyDeltas(ctx, deltas))
}

// SendStatements implement Transport
func (lt *LocalTransport) SendStatements(ctx context.Context, stmts []domain.XapiStatement) error {
	return classifyLocal(lt.Statements.Record(ctx, stmts))
}

// classifyLocal payload validation failures are permanent
func classifyLocal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrInvalidPayload) {
		return &domain.SyncError{Kind: domain.SyncPermanent, Err: err}
	}
	return err
}
