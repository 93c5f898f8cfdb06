package journal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/aodd/internal/model"
)

func testTransition(t *testing.T, id model.DisplayID, action model.Action) *model.Transition {
	t.Helper()
	tr, err := model.NewTransition(id, action, "display.aod")
	require.NoError(t, err)
	return tr
}

func TestOpen_WritesHeader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "transitions.jsonl")

	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, path, j.Path())

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "aodd_schema_version")

	// Reopening does not add a second header
	require.NoError(t, j.Close())
	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()

	content, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(content), "aodd_schema_version"))
}

func TestJournal_AppendLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	a := testTransition(t, 1, model.ActionActivate)
	b := testTransition(t, 1, model.ActionDozeMode)
	b.Mode = model.DozeModeHBM
	c := testTransition(t, 1, model.ActionDeactivate)

	for _, tr := range []*model.Transition{a, b, c} {
		require.NoError(t, j.Append(tr))
	}
	assert.Error(t, j.Append(nil))

	all, err := j.Load()
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, model.DozeModeHBM, all[1].Mode)
	assert.Equal(t, model.ActionDeactivate, all[2].Action)

	// Appending still works after a load
	require.NoError(t, j.Append(testTransition(t, 2, model.ActionActivate)))
	last, err := j.Tail(1)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, model.DisplayID(2), last[0].Display)

	fromFile, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, fromFile, 4)
}

func TestJournal_Tail(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "transitions.jsonl"))
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 5; i++ {
		require.NoError(t, j.Append(testTransition(t, model.DisplayID(i), model.ActionActivate)))
	}

	tests := []struct {
		n    int
		want []model.DisplayID
	}{
		{0, []model.DisplayID{0, 1, 2, 3, 4}},
		{2, []model.DisplayID{3, 4}},
		{10, []model.DisplayID{0, 1, 2, 3, 4}},
	}
	for _, tt := range tests {
		got, err := j.Tail(tt.n)
		require.NoError(t, err)
		ids := make([]model.DisplayID, 0, len(got))
		for _, tr := range got {
			ids = append(ids, tr.Display)
		}
		assert.Equal(t, tt.want, ids, "tail %d", tt.n)
	}
}

func TestJournal_SkipsMalformedLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, j.Append(testTransition(t, 1, model.ActionActivate)))
	require.NoError(t, j.Close())

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("not json\n{\"display\":3}\n\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	all, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestJournal_UnsupportedSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"aodd_schema_version":99,"created_at":0}`+"\n"), 0644))

	_, err := ReadFile(path)
	assert.Error(t, err)
}

func TestJournal_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	j, err := Open(path)
	require.NoError(t, err)
	defer j.Close()

	for i := 0; i < 6; i++ {
		require.NoError(t, j.Append(testTransition(t, model.DisplayID(i), model.ActionActivate)))
	}

	removed, err := j.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	all, err := j.Load()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, model.DisplayID(4), all[0].Display)

	// The reopened file still takes appends
	require.NoError(t, j.Append(testTransition(t, 9, model.ActionDeactivate)))
	all, err = ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	removed, err = j.Prune(10)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	removed, err = j.Prune(0)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)
	all, err = j.Load()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestJournal_Closed(t *testing.T) {
	j, err := Open(filepath.Join(t.TempDir(), "transitions.jsonl"))
	require.NoError(t, err)
	require.NoError(t, j.Close())
	require.NoError(t, j.Close())

	assert.ErrorIs(t, j.Append(testTransition(t, 1, model.ActionActivate)), ErrClosed)
	_, err = j.Load()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = j.Prune(1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestJournal_SyncDeferred(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transitions.jsonl")
	j, err := Open(path)
	require.NoError(t, err)

	assert.False(t, j.Dirty())
	require.NoError(t, j.Sync())

	tr := testTransition(t, 2, model.ActionActivate)
	require.NoError(t, j.Append(tr))
	assert.True(t, j.Dirty())

	// Appended lines are readable before they are synced
	all, err := ReadFile(path)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, tr.ID, all[0].ID)

	require.NoError(t, j.Sync())
	assert.False(t, j.Dirty())

	require.NoError(t, j.Append(testTransition(t, 2, model.ActionDeactivate)))
	require.NoError(t, j.Close())
	assert.ErrorIs(t, j.Sync(), ErrClosed)

	all, err = ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestReadFile_Missing(t *testing.T) {
	all, err := ReadFile(filepath.Join(t.TempDir(), "missing.jsonl"))
	require.NoError(t, err)
	assert.Empty(t, all)
}
