package statement

import (
	"context"

	"github.com/pot-code/course-playback/internal/domain"
	"github.com/pot-code/course-playback/internal/infrastructure/validate"
	"go.elastic.co/apm"
)

// StatementUseCaseImpl xAPI sink
type StatementUseCaseImpl struct {
	StatementRepository domain.StatementRepository
	Validator           validate.Validator
}

var _ domain.StatementUseCase = &StatementUseCaseImpl{}

// NewStatementUseCase ...
func NewStatementUseCase(
	StatementRepository domain.StatementRepository,
	Validator validate.Validator,
) *StatementUseCaseImpl {
	return &StatementUseCaseImpl{StatementRepository, Validator}
}

// Record validate and store a batch, all or nothing on validation
func (su *StatementUseCaseImpl) Record(ctx context.Context, stmts []domain.XapiStatement) error {
	apmSpan, ctx := apm.StartSpan(ctx, "StatementUseCaseImpl.Record", "service")
	defer apmSpan.End()

	for i := range stmts {
		if err := validate.AsError(su.Validator.Struct(&stmts[i])); err != nil {
			return err
		}
	}
	return su.StatementRepository.SaveStatements(ctx, stmts)
}
