package actions_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandon/mail-sync/internal/actions"
	"github.com/brandon/mail-sync/pkg/types"
)

func folder(id int64) *int64 { return &id }

func TestCompact(t *testing.T) {
	tests := []struct {
		name    string
		tasks   []types.Task
		kept    []int64
		ignored []int64
	}{
		{
			name: "inverse pair cancels",
			tasks: []types.Task{
				{ID: 1, MessageID: 10, Type: types.TaskFlag},
				{ID: 2, MessageID: 10, Type: types.TaskUnflag},
			},
			ignored: []int64{1, 2},
		},
		{
			name: "repeat keeps the earlier",
			tasks: []types.Task{
				{ID: 1, MessageID: 10, Type: types.TaskRead},
				{ID: 2, MessageID: 10, Type: types.TaskRead},
			},
			kept:    []int64{1},
			ignored: []int64{2},
		},
		{
			name: "delete undelete delete leaves one delete",
			tasks: []types.Task{
				{ID: 1, MessageID: 10, Type: types.TaskDelete},
				{ID: 2, MessageID: 10, Type: types.TaskUndelete},
				{ID: 3, MessageID: 10, Type: types.TaskDelete},
			},
			kept:    []int64{3},
			ignored: []int64{1, 2},
		},
		{
			name: "different messages are independent",
			tasks: []types.Task{
				{ID: 1, MessageID: 10, Type: types.TaskFlag},
				{ID: 2, MessageID: 11, Type: types.TaskUnflag},
			},
			kept: []int64{1, 2},
		},
		{
			name: "copies to different folders are kept",
			tasks: []types.Task{
				{ID: 1, MessageID: 10, Type: types.TaskCopy, FolderID: folder(2)},
				{ID: 2, MessageID: 10, Type: types.TaskCopy, FolderID: folder(3)},
				{ID: 3, MessageID: 10, Type: types.TaskCopy, FolderID: folder(2)},
			},
			kept:    []int64{1, 2},
			ignored: []int64{3},
		},
		{
			name: "unordered input is sorted by id",
			tasks: []types.Task{
				{ID: 5, MessageID: 10, Type: types.TaskUnread},
				{ID: 4, MessageID: 10, Type: types.TaskSend},
			},
			kept: []int64{4, 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kept, ignored := actions.Compact(tt.tasks)
			var keptIDs []int64
			for _, k := range kept {
				keptIDs = append(keptIDs, k.ID)
			}
			assert.Equal(t, tt.kept, keptIDs)
			assert.Equal(t, tt.ignored, ignored)
		})
	}
}
