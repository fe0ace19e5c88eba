package syncer

import (
	"github.com/pot-code/course-playback/internal/domain"
)

// ItemKind payload kind of a queued item
type ItemKind string

// queued payload kinds
const (
	KindProgress  ItemKind = "progress"
	KindStatement ItemKind = "statement"
)

// Item one entry of the outbound queue
type Item struct {
	Seq       uint64                `json:"seq"`
	Kind      ItemKind              `json:"kind"`
	Progress  *domain.ProgressDelta `json:"progress,omitempty"`
	Statement *domain.XapiStatement `json:"statement,omitempty"`
	// Rejections permanent failures seen so far
	Rejections int `json:"rejections,omitempty"`
}

func (it *Item) clone() *Item {
	out := *it
	if it.Progress != nil {
		p := *it.Progress
		p.LessonProgress = it.Progress.LessonProgress.Clone()
		out.Progress = &p
	}
	if it.Statement != nil {
		s := *it.Statement
		out.Statement = &s
	}
	return &out
}

// Ack outcome of a flush
type Ack struct {
	Progress   int `json:"progress"`
	Statements int `json:"statements"`
	Dropped    int `json:"dropped"`
	Pending    int `json:"pending"`
}
