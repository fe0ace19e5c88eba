package syncer

import (
	"github.com/pot-code/course-playback/internal/domain"
)

// progressKey pending progress of the same lesson collapses into one item
func progressKey(d *domain.ProgressDelta) string {
	return d.LearnerID + "/" + d.CourseID + "/" + d.LessonID
}

// Coalesce fold deltas of the same lesson into one, keeping the position of
// the first occurrence. Later deltas are merged on top of earlier ones.
func Coalesce(deltas []domain.ProgressDelta) []domain.ProgressDelta {
	out := make([]domain.ProgressDelta, 0, len(deltas))
	index := make(map[string]int, len(deltas))
	for i := range deltas {
		d := deltas[i]
		key := progressKey(&d)
		if j, ok := index[key]; ok {
			out[j].LessonProgress = domain.MergeLessonProgress(out[j].LessonProgress, d.LessonProgress)
			continue
		}
		index[key] = len(out)
		d.LessonProgress = d.LessonProgress.Clone()
		out = append(out, d)
	}
	return out
}

// coalesceItems same as Coalesce over queue items, returns the surviving
// items and the sequence numbers folded away
func coalesceItems(items []*Item) ([]*Item, []uint64) {
	out := make([]*Item, 0, len(items))
	index := make(map[string]*Item)
	var folded []uint64
	for _, it := range items {
		if it.Kind != KindProgress || it.Progress == nil {
			out = append(out, it)
			continue
		}
		key := progressKey(it.Progress)
		if first, ok := index[key]; ok {
			first.Progress.LessonProgress = domain.MergeLessonProgress(first.Progress.LessonProgress, it.Progress.LessonProgress)
			folded = append(folded, it.Seq)
			continue
		}
		index[key] = it
		out = append(out, it)
	}
	return out, folded
}
