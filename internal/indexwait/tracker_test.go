package indexwait

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOpener struct {
	mu     sync.Mutex
	opened []string
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{}
}

func (f *fakeOpener) EnsureOpen(ctx context.Context, path string) error {
	f.mu.Lock()
	f.opened = append(f.opened, path)
	f.mu.Unlock()
	return nil
}

func (f *fakeOpener) Close(path string) error { return nil }

func (f *fakeOpener) openedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.opened))
	copy(out, f.opened)
	return out
}

func fastConfig() Config {
	return Config{
		QuiescencePeriod: 30 * time.Millisecond,
		RemediationWait:  30 * time.Millisecond,
		OpenTimeout:      time.Second,
	}
}

func TestTracker_ReadyWhenObservationsCoverExpectedSet(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc", "/src/b.cc"})

	tr.OnDiagnosticLog("Indexed /src/a.cc (3 symbols)")
	tr.OnFileStatus("file:///src/b.cc")

	outcome := tr.Wait(context.Background(), time.Second)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Equal(t, StateReady, tr.State())
}

func TestTracker_StartingThenIndexingOnFirstObservation(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc"})
	assert.Equal(t, StateStarting, tr.State())

	tr.OnProgressBegin("t1")
	assert.Equal(t, StateIndexing, tr.State())
}

func TestTracker_ReadyAfterProgressEndWithFullCoverage(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc"})

	tr.OnProgressBegin("t1")
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	tr.OnProgressEnd("t1")

	assert.Equal(t, StateReady, tr.State())
}

func TestTracker_RemediatesMissingFilesThenReady(t *testing.T) {
	opener := newFakeOpener()
	tr := New(opener, fastConfig())
	tr.Bind([]string{"/src/a.cc", "/src/missing.cc"})

	tr.OnProgressBegin("t1")
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	tr.OnProgressEnd("t1")

	// Once the remediation pass's forced open actually lands, a real
	// session would observe a new file-status/diagnostic for it; here we
	// simulate that by feeding the observation as soon as the remediation
	// pass has opened the file, before the final check fires.
	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if slices.Contains(opener.openedPaths(), "/src/missing.cc") {
				tr.OnDiagnosticLog("Indexed /src/missing.cc (2 symbols)")
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	outcome := tr.Wait(context.Background(), 2*time.Second)
	assert.Equal(t, OutcomeReady, outcome)
	assert.Contains(t, opener.openedPaths(), "/src/missing.cc")
}

func TestTracker_DegradedWhenRemediationDoesNotResolveGap(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc", "/src/never.cc"})

	tr.OnProgressBegin("t1")
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	tr.OnProgressEnd("t1")

	outcome := tr.Wait(context.Background(), 2*time.Second)
	assert.Equal(t, OutcomeDegraded, outcome)
	assert.Equal(t, StateDegraded, tr.State())
}

func TestTracker_WaitTimesOutWithoutChangingState(t *testing.T) {
	tr := New(newFakeOpener(), DefaultConfig())
	tr.Bind([]string{"/src/a.cc"})

	outcome := tr.Wait(context.Background(), 20*time.Millisecond)
	assert.Equal(t, OutcomeTimeout, outcome)
	assert.NotEqual(t, StateDegraded, tr.State())
}

func TestTracker_ZeroTimeoutDoesNotWait(t *testing.T) {
	tr := New(newFakeOpener(), DefaultConfig())
	tr.Bind([]string{"/src/a.cc"})

	outcome := tr.Wait(context.Background(), 0)
	assert.Equal(t, OutcomeTimeout, outcome)
}

func TestTracker_DuplicateObservationsAreIdempotent(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc"})

	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	tr.OnFileStatus("file:///src/a.cc")

	outcome := tr.Wait(context.Background(), time.Second)
	assert.Equal(t, OutcomeReady, outcome)
}

func TestTracker_BindResetsState(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc"})
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")
	require.Equal(t, StateReady, tr.State())

	tr.Bind([]string{"/src/a.cc", "/src/b.cc"})
	assert.Equal(t, StateStarting, tr.State())
}

func TestTracker_SeedReadyMarksAllExpectedIndexed(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc", "/src/b.cc"})
	tr.SeedReady()
	assert.Equal(t, StateReady, tr.State())
}

func TestTracker_ConcurrentWaitersWakeTogether(t *testing.T) {
	tr := New(newFakeOpener(), fastConfig())
	tr.Bind([]string{"/src/a.cc"})

	results := make(chan Outcome, 4)
	for i := 0; i < 4; i++ {
		go func() {
			results <- tr.Wait(context.Background(), 2*time.Second)
		}()
	}

	time.Sleep(10 * time.Millisecond)
	tr.OnDiagnosticLog("Indexed /src/a.cc (1 symbols)")

	for i := 0; i < 4; i++ {
		select {
		case outcome := <-results:
			assert.Equal(t, OutcomeReady, outcome)
		case <-time.After(2 * time.Second):
			t.Fatal("waiter did not wake")
		}
	}
}
