package actions

import (
	"sort"

	"github.com/brandon/mail-sync/pkg/types"
)

// Compact drops pending tasks that cancel out or repeat. For each message,
// a task followed by its inverse ignores both, and a task repeated with the
// same type (and target folder, for copies) keeps only the earlier one. It
// returns the surviving tasks in id order and the ids to mark ignored.
func Compact(tasks []types.Task) ([]types.Task, []int64) {
	sorted := append([]types.Task(nil), tasks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	dropped := make([]bool, len(sorted))
	for i := range sorted {
		if dropped[i] {
			continue
		}
		a := sorted[i]
		inverse, hasInverse := a.Type.Inverse()
		for j := i + 1; j < len(sorted); j++ {
			b := sorted[j]
			if dropped[j] || b.MessageID != a.MessageID {
				continue
			}
			if hasInverse && b.Type == inverse {
				dropped[i], dropped[j] = true, true
				break
			}
			if sameAction(a, b) {
				dropped[j] = true
			}
		}
	}

	var kept []types.Task
	var ignored []int64
	for i, t := range sorted {
		if dropped[i] {
			ignored = append(ignored, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	return kept, ignored
}

func sameAction(a, b types.Task) bool {
	if a.Type != b.Type {
		return false
	}
	if a.Type != types.TaskCopy {
		return true
	}
	return a.FolderID != nil && b.FolderID != nil && *a.FolderID == *b.FolderID
}
