package documents

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpcpp/bridge/internal/lspproto"
)

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) Notify(method string, params any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, method)
	return nil
}

func (n *recordingNotifier) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, m := range n.calls {
		if m == method {
			c++
		}
	}
	return c
}

func writeTempFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "a.cc")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestEnsureOpen_IsIdempotent(t *testing.T) {
	path := writeTempFile(t, "int main() {}")
	notifier := &recordingNotifier{}
	reg := New(notifier)

	require.NoError(t, reg.EnsureOpen(context.Background(), path))
	require.NoError(t, reg.EnsureOpen(context.Background(), path))

	assert.Equal(t, 1, notifier.count(lspproto.MethodDidOpen))
	assert.True(t, reg.IsOpen(path))
}

func TestClose_NoOpWhenNotOpen(t *testing.T) {
	notifier := &recordingNotifier{}
	reg := New(notifier)

	require.NoError(t, reg.Close("/never/opened.cc"))
	assert.Equal(t, 0, notifier.count(lspproto.MethodDidClose))
}

func TestClose_RemovesRecordAndNotifies(t *testing.T) {
	path := writeTempFile(t, "int main() {}")
	notifier := &recordingNotifier{}
	reg := New(notifier)

	require.NoError(t, reg.EnsureOpen(context.Background(), path))
	require.NoError(t, reg.Close(path))

	assert.False(t, reg.IsOpen(path))
	assert.Equal(t, 1, notifier.count(lspproto.MethodDidClose))
}

func TestWithOpen_ClosesOnlyIfItOpenedTheFile(t *testing.T) {
	path := writeTempFile(t, "int main() {}")
	notifier := &recordingNotifier{}
	reg := New(notifier)

	ran := false
	err := reg.WithOpen(context.Background(), path, func() error {
		ran = true
		assert.True(t, reg.IsOpen(path))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
	assert.False(t, reg.IsOpen(path), "WithOpen must close a file it opened itself")
}

func TestWithOpen_LeavesAlreadyOpenFileOpen(t *testing.T) {
	path := writeTempFile(t, "int main() {}")
	notifier := &recordingNotifier{}
	reg := New(notifier)
	require.NoError(t, reg.EnsureOpen(context.Background(), path))

	err := reg.WithOpen(context.Background(), path, func() error { return nil })
	require.NoError(t, err)
	assert.True(t, reg.IsOpen(path), "WithOpen must not close a file that was already open")
}
