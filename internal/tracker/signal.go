package tracker

import "time"

// Signal content-type specific observation emitted by a player widget
type Signal interface {
	observedAt() time.Time
}

// PlayheadSignal sampled media position
type PlayheadSignal struct {
	Fraction float64   `json:"fraction" validate:"min=0,max=1"`
	Seconds  float64   `json:"seconds,omitempty"`
	At       time.Time `json:"at"`
}

// EndedSignal media reached its end
type EndedSignal struct {
	At time.Time `json:"at"`
}

// SeekSignal learner moved the playhead
type SeekSignal struct {
	Fraction float64   `json:"fraction" validate:"min=0,max=1"`
	Seconds  float64   `json:"seconds,omitempty"`
	At       time.Time `json:"at"`
}

// PageVisibility intersection ratio of one PDF page with the viewport
type PageVisibility struct {
	Page  int     `json:"page" validate:"min=1"`
	Ratio float64 `json:"ratio" validate:"min=0,max=1"`
}

// PageVisibilitySignal pages whose visibility changed
type PageVisibilitySignal struct {
	Pages      []PageVisibility `json:"pages" validate:"dive"`
	TotalPages int              `json:"total_pages,omitempty"`
	At         time.Time        `json:"at"`
}

// ScormSignal status snapshot committed by a SCORM runtime
type ScormSignal struct {
	Completed   bool
	Score       *float64
	SuspendData *string
	At          time.Time
}

// QuizResultSignal graded quiz attempt
type QuizResultSignal struct {
	Passed     bool      `json:"passed"`
	Percentage float64   `json:"percentage" validate:"min=0,max=100"`
	At         time.Time `json:"at"`
}

// FractionSignal read-through fraction of a text lesson
type FractionSignal struct {
	Fraction float64   `json:"fraction" validate:"min=0,max=1"`
	At       time.Time `json:"at"`
}

// MarkCompleteSignal explicit completion of a text lesson
type MarkCompleteSignal struct {
	At time.Time `json:"at"`
}

func (s PlayheadSignal) observedAt() time.Time       { return s.At }
func (s EndedSignal) observedAt() time.Time          { return s.At }
func (s SeekSignal) observedAt() time.Time           { return s.At }
func (s PageVisibilitySignal) observedAt() time.Time { return s.At }
func (s ScormSignal) observedAt() time.Time          { return s.At }
func (s QuizResultSignal) observedAt() time.Time     { return s.At }
func (s FractionSignal) observedAt() time.Time       { return s.At }
func (s MarkCompleteSignal) observedAt() time.Time   { return s.At }
