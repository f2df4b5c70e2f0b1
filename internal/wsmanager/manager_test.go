package wsmanager

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpcpp/bridge/internal/compiledb"
	"github.com/mcpcpp/bridge/internal/indexwait"
	"github.com/mcpcpp/bridge/internal/session"
)

// TestMain re-execs this binary as a minimal fake clangd, just enough to
// complete session initialization, mirroring the technique used in
// internal/session's own tests.
func TestMain(m *testing.M) {
	if os.Getenv("BRIDGE_FAKE_CLANGD") == "1" {
		runFakeServer()
		return
	}
	os.Exit(m.Run())
}

func runFakeServer() {
	reader := bufio.NewReader(os.Stdin)
	for {
		n, err := readContentLength(reader)
		if err != nil {
			return
		}
		body := make([]byte, n)
		if _, err := readFullBody(reader, body); err != nil {
			return
		}
		var msg map[string]any
		if err := json.Unmarshal(body, &msg); err != nil {
			continue
		}
		method, _ := msg["method"].(string)
		id := msg["id"]

		switch method {
		case "initialize":
			writeFrame(map[string]any{"jsonrpc": "2.0", "id": id, "result": map[string]any{"capabilities": map[string]any{}}})
		case "shutdown":
			writeFrame(map[string]any{"jsonrpc": "2.0", "id": id, "result": nil})
		case "exit":
			os.Exit(0)
		default:
			if id != nil {
				writeFrame(map[string]any{"jsonrpc": "2.0", "id": id, "result": nil})
			}
		}
	}
}

func readContentLength(r *bufio.Reader) (int, error) {
	length := -1
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		if line == "\r\n" {
			break
		}
		var n int
		if _, err := fmt.Sscanf(line, "Content-Length: %d", &n); err == nil {
			length = n
		}
	}
	if length < 0 {
		return 0, fmt.Errorf("no content-length")
	}
	return length, nil
}

func readFullBody(r *bufio.Reader, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := r.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func writeFrame(payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(os.Stdout, "Content-Length: %d\r\n\r\n%s", len(raw), raw)
}

func newFakeComponent(t *testing.T) (dir string, db *compiledb.Database) {
	t.Helper()
	dir = t.TempDir()
	src := filepath.Join(dir, "a.cc")
	require.NoError(t, os.WriteFile(src, []byte("int main(){}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, compiledb.FileName),
		[]byte(fmt.Sprintf(`[{"file":"a.cc","directory":%q}]`, dir)), 0o644))
	loaded, err := compiledb.Load(dir)
	require.NoError(t, err)
	return dir, loaded
}

func TestManager_ReusesSessionForSameKey(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	dir, db := newFakeComponent(t)
	var starts int32

	starter := func(ctx context.Context, key string) (*session.Session, error) {
		atomic.AddInt32(&starts, 1)
		require.NoError(t, os.Setenv("BRIDGE_FAKE_CLANGD", "1"))
		defer os.Unsetenv("BRIDGE_FAKE_CLANGD")
		return session.Start(ctx, session.Options{
			SourceRoot: dir, DB: db, Executable: self,
			IndexConfig: indexwait.Config{QuiescencePeriod: 20 * time.Millisecond, RemediationWait: 20 * time.Millisecond, OpenTimeout: time.Second},
		})
	}

	mgr := New(starter, DefaultCacheSize)
	s1, err := mgr.Get(context.Background(), dir)
	require.NoError(t, err)
	s2, err := mgr.Get(context.Background(), dir)
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))

	mgr.Rescan(context.Background())
	assert.Equal(t, 0, mgr.Len())
}

func TestManager_ConcurrentGetsForSameKeyShareCreation(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)
	dir, db := newFakeComponent(t)
	var starts int32

	starter := func(ctx context.Context, key string) (*session.Session, error) {
		atomic.AddInt32(&starts, 1)
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, os.Setenv("BRIDGE_FAKE_CLANGD", "1"))
		defer os.Unsetenv("BRIDGE_FAKE_CLANGD")
		return session.Start(ctx, session.Options{
			SourceRoot: dir, DB: db, Executable: self,
			IndexConfig: indexwait.Config{QuiescencePeriod: 20 * time.Millisecond, RemediationWait: 20 * time.Millisecond, OpenTimeout: time.Second},
		})
	}

	mgr := New(starter, DefaultCacheSize)

	var wg sync.WaitGroup
	results := make([]*session.Session, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			s, err := mgr.Get(context.Background(), dir)
			require.NoError(t, err)
			results[idx] = s
		}(i)
	}
	wg.Wait()

	for i := 1; i < 4; i++ {
		assert.Same(t, results[0], results[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&starts))
}

func TestManager_EvictsBeyondCacheSize(t *testing.T) {
	self, err := os.Executable()
	require.NoError(t, err)

	type fixture struct {
		dir string
		db  *compiledb.Database
	}
	fixtures := map[string]fixture{}
	for _, name := range []string{"k1", "k2", "k3"} {
		dir, db := newFakeComponent(t)
		fixtures[name] = fixture{dir: dir, db: db}
	}

	starter := func(ctx context.Context, key string) (*session.Session, error) {
		f := fixtures[key]
		require.NoError(t, os.Setenv("BRIDGE_FAKE_CLANGD", "1"))
		defer os.Unsetenv("BRIDGE_FAKE_CLANGD")
		return session.Start(ctx, session.Options{
			SourceRoot: f.dir, DB: f.db, Executable: self,
			IndexConfig: indexwait.Config{QuiescencePeriod: 20 * time.Millisecond, RemediationWait: 20 * time.Millisecond, OpenTimeout: time.Second},
		})
	}

	mgr := New(starter, 2)
	_, err = mgr.Get(context.Background(), "k1")
	require.NoError(t, err)
	_, err = mgr.Get(context.Background(), "k2")
	require.NoError(t, err)
	_, err = mgr.Get(context.Background(), "k3")
	require.NoError(t, err)

	assert.Equal(t, 2, mgr.Len(), "cache size 2 must evict the least-recently-used session")
}
