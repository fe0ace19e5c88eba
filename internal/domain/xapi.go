package domain

import (
	"context"
	"time"
)

// Verb learning activity verb
type Verb string

// xAPI verbs emitted by the engine
const (
	VerbLaunched   Verb = "launched"
	VerbProgressed Verb = "progressed"
	VerbCompleted  Verb = "completed"
	VerbPassed     Verb = "passed"
	VerbFailed     Verb = "failed"
)

// verbIRIs ADL vocabulary ids
var verbIRIs = map[Verb]string{
	VerbLaunched:   "http://adlnet.gov/expapi/verbs/launched",
	VerbProgressed: "http://adlnet.gov/expapi/verbs/progressed",
	VerbCompleted:  "http://adlnet.gov/expapi/verbs/completed",
	VerbPassed:     "http://adlnet.gov/expapi/verbs/passed",
	VerbFailed:     "http://adlnet.gov/expapi/verbs/failed",
}

// IRI ADL identifier of the verb
func (v Verb) IRI() string {
	return verbIRIs[v]
}

// StatementResult optional outcome block
type StatementResult struct {
	Duration   string   `json:"duration,omitempty"` // ISO 8601 duration
	Completion *bool    `json:"completion,omitempty"`
	Success    *bool    `json:"success,omitempty"`
	Scaled     *float64 `json:"scaled,omitempty"` // score in [0,1]
}

// XapiStatement learning activity record, never mutated after creation
type XapiStatement struct {
	ID         string           `json:"id" validate:"required,uuid"`
	ActorID    string           `json:"actor_id" validate:"required"`
	Verb       Verb             `json:"verb" validate:"required,oneof=launched progressed completed passed failed"`
	VerbIRI    string           `json:"verb_iri"`
	ObjectID   string           `json:"object_id" validate:"required"`
	ObjectType string           `json:"object_type"`
	Timestamp  time.Time        `json:"timestamp" validate:"required"`
	Result     *StatementResult `json:"result,omitempty"`
}

// StatementRepository xAPI sink storage
type StatementRepository interface {
	// SaveStatements insert statements, ignoring ids already stored
	SaveStatements(ctx context.Context, stmts []XapiStatement) error
}

// StatementUseCase xAPI sink
type StatementUseCase interface {
	Record(ctx context.Context, stmts []XapiStatement) error
}
