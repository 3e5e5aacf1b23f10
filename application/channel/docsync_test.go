package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proofcanvas/domain/collab"
	appErrors "proofcanvas/pkg/errors"
)

type recordingSender struct {
	mu    sync.Mutex
	edits []collab.DocumentEdit
	syncs []collab.DocumentSync
}

func (s *recordingSender) SendDocumentEdit(edit collab.DocumentEdit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, edit)
	return nil
}

func (s *recordingSender) SendDocumentSync(path, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs = append(s.syncs, collab.DocumentSync{Path: path, Content: content})
	return nil
}

func (s *recordingSender) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.edits), len(s.syncs)
}

func insert(pos int, text string) collab.DocumentEdit {
	return collab.DocumentEdit{Path: "Main.lean", Operation: collab.EditInsert, Position: pos, Text: text}
}

func TestDebouncedFullSyncFiresOnce(t *testing.T) {
	sender := &recordingSender{}
	d := NewDocumentSyncer(sender, 40*time.Millisecond, nil)
	t.Cleanup(d.Close)

	d.Open("Main.lean", "theorem")
	require.NoError(t, d.Edit(insert(7, " foo")))
	require.NoError(t, d.Edit(insert(11, " :")))
	require.NoError(t, d.Edit(insert(13, " True")))

	edits, syncs := sender.counts()
	assert.Equal(t, 3, edits, "edits are sent immediately")
	assert.Equal(t, 0, syncs)
	assert.True(t, d.Pending("Main.lean"))

	require.Eventually(t, func() bool {
		_, s := sender.counts()
		return s == 1
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	_, syncs = sender.counts()
	assert.Equal(t, 1, syncs)

	sender.mu.Lock()
	assert.Equal(t, collab.DocumentSync{Path: "Main.lean", Content: "theorem foo : True"}, sender.syncs[0])
	sender.mu.Unlock()
	assert.False(t, d.Pending("Main.lean"))
}

func TestRemoteChangesDoNotPublish(t *testing.T) {
	sender := &recordingSender{}
	d := NewDocumentSyncer(sender, 20*time.Millisecond, nil)
	t.Cleanup(d.Close)

	require.NoError(t, d.ApplyRemote(insert(0, "abc")))
	d.ApplySync(collab.DocumentSync{Path: "Other.lean", Content: "xyz"})

	time.Sleep(60 * time.Millisecond)
	edits, syncs := sender.counts()
	assert.Zero(t, edits)
	assert.Zero(t, syncs)

	c, ok := d.Content("Main.lean")
	assert.True(t, ok)
	assert.Equal(t, "abc", c)
	c, _ = d.Content("Other.lean")
	assert.Equal(t, "xyz", c)
}

func TestFlushAndClose(t *testing.T) {
	sender := &recordingSender{}
	d := NewDocumentSyncer(sender, time.Hour, nil)

	require.NoError(t, d.Edit(insert(0, "x")))
	d.Flush()
	_, syncs := sender.counts()
	assert.Equal(t, 1, syncs)

	require.NoError(t, d.Edit(insert(1, "y")))
	d.Close()
	d.Close()
	d.Flush()
	_, syncs = sender.counts()
	assert.Equal(t, 1, syncs, "close cancels the pending sync")

	assert.True(t, appErrors.IsClosed(d.Edit(insert(0, "z"))))
}

func TestEditRejectsUnknownOperation(t *testing.T) {
	sender := &recordingSender{}
	d := NewDocumentSyncer(sender, 0, nil)
	t.Cleanup(d.Close)

	err := d.Edit(collab.DocumentEdit{Path: "a", Operation: "rotate"})
	assert.True(t, appErrors.IsValidation(err))
	edits, _ := sender.counts()
	assert.Zero(t, edits)
}
