// Package indexwait reconciles the language server's progress notifications,
// per-file status stream, and diagnostic log lines into one authoritative
// readiness signal (spec §4.D). It is the hardest subsystem in the bridge:
// the server under-reports completion through any single channel, so the
// tracker treats all three as a true union and remediates gaps itself.
package indexwait

import (
	"context"
	"regexp"
	"strings"
	"sync"
	"time"
)

// State is the tracker's own view of indexing progress. It is distinct from
// Outcome, which describes how a particular Wait call ended.
type State string

const (
	StateStarting State = "starting"
	StateIndexing State = "indexing"
	StateReady    State = "ready"
	StateDegraded State = "degraded"
)

// Outcome is the result of a single Wait call. Timeout never changes the
// tracker's own State; it only describes that this particular wait gave up.
type Outcome string

const (
	OutcomeReady   Outcome = "ready"
	OutcomeTimeout Outcome = "timeout"
	OutcomeDegraded Outcome = "degraded"
)

// FileOpener is the side of the document registry the tracker needs to
// force-index files the background pass skipped (spec §4.D "Remediation
// pass").
type FileOpener interface {
	EnsureOpen(ctx context.Context, path string) error
	Close(path string) error
}

// Config tunes the bounded waits the state machine relies on. Defaults
// match what a cold clangd instance typically needs for a small-to-medium
// compilation database; callers building their own sessions can tighten
// these for tests.
type Config struct {
	// QuiescencePeriod is how long the tracker waits, with no new
	// observations, after progress-end before it concludes coverage is
	// final and starts remediation.
	QuiescencePeriod time.Duration

	// RemediationWait is how long the tracker waits, after forcing opens
	// for missing files, before re-checking coverage a final time.
	RemediationWait time.Duration

	// OpenTimeout bounds each individual remediation open/close round trip.
	OpenTimeout time.Duration
}

// DefaultConfig mirrors the bounds described in spec §4.D without pinning
// them to a single hardcoded constant scattered through the package.
func DefaultConfig() Config {
	return Config{
		QuiescencePeriod: 3 * time.Second,
		RemediationWait:  2 * time.Second,
		OpenTimeout:      5 * time.Second,
	}
}

var indexedLogLine = regexp.MustCompile(`^I?\s*Indexed\s+(\S+)\s+\(\d+\s+symbols\)`)

// Tracker is one compilation database's readiness state machine. It is
// safe for concurrent use; OnX observation methods are meant to be called
// from the session's notification handlers, which must not block.
type Tracker struct {
	cfg    Config
	opener FileOpener

	mu             sync.Mutex
	state          State
	expected       map[string]struct{}
	indexed        map[string]struct{}
	progressEnded  bool
	remediated     bool
	signaled       bool
	readyCh        chan struct{}
	quiesceTimer   *time.Timer
}

// New creates a tracker bound to no files yet; call Bind before use.
func New(opener FileOpener, cfg Config) *Tracker {
	return &Tracker{
		cfg:      cfg,
		opener:   opener,
		state:    StateStarting,
		expected: make(map[string]struct{}),
		indexed:  make(map[string]struct{}),
		readyCh:  make(chan struct{}),
	}
}

// SetOpener attaches the remediation opener after construction. Sessions
// build the tracker before the document registry exists (the registry
// itself depends on a client wired to the same transport the tracker's
// diagnostic-line handler is already attached to), so the opener is wired
// in once both are ready.
func (t *Tracker) SetOpener(opener FileOpener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opener = opener
}

// Bind (re)initializes the tracker for a new expected file set, discarding
// any prior indexed set and progress state. Called on session bind and on
// explicit invalidation (spec §4.D "resets to Starting and clears the
// indexed set").
func (t *Tracker) Bind(expectedFiles []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.quiesceTimer != nil {
		t.quiesceTimer.Stop()
	}

	expected := make(map[string]struct{}, len(expectedFiles))
	for _, f := range expectedFiles {
		expected[f] = struct{}{}
	}

	t.state = StateStarting
	t.expected = expected
	t.indexed = make(map[string]struct{})
	t.progressEnded = false
	t.remediated = false
	t.signaled = false
	t.readyCh = make(chan struct{})
}

// SeedReady marks every expected file indexed and moves the tracker to Ready
// without observation. Nothing in the bridge calls it: sessions do not look
// for a persisted index, so a freshly bound tracker always starts in
// Starting.
func (t *Tracker) SeedReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for f := range t.expected {
		t.indexed[f] = struct{}{}
	}
	t.transitionLocked(StateReady)
}

// State reports the tracker's current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// OnProgressBegin records that the server has announced a background index
// pass under token. The token itself is not currently load-bearing; only
// the begin/end transitions matter to the state machine.
func (t *Tracker) OnProgressBegin(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateStarting {
		t.state = StateIndexing
	}
}

// OnProgressReport records nothing about the report itself; it is kept for
// symmetry with begin/end. A report after progress-end still counts as "new
// input" and restarts the quiescence countdown.
func (t *Tracker) OnProgressReport(token, message string, percentage int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.progressEnded {
		t.resetQuiesceTimerLocked()
	}
}

// OnProgressEnd records that the background index pass has finished. If
// the union of observations already covers the expected set the tracker
// goes Ready immediately; otherwise it starts the quiescence countdown
// that leads to remediation.
func (t *Tracker) OnProgressEnd(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.progressEnded = true
	if t.coverageCompleteLocked() {
		t.transitionLocked(StateReady)
		return
	}
	t.resetQuiesceTimerLocked()
}

// OnFileStatus records a per-file status notification (spec §4.D input 2).
// Any status update, terminal or not, counts as evidence the server has
// visited the file; the tracker does not attempt to distinguish
// "parsing" from "indexed" since the server's own vocabulary for this is
// not guaranteed stable.
func (t *Tracker) OnFileStatus(uri string) {
	t.addObservation(uriToPath(uri))
}

// OnDiagnosticLog scans a line of the diagnostic stream for the
// "Indexed <path> (<n> symbols)" marker (spec §4.D input 3).
func (t *Tracker) OnDiagnosticLog(line string) {
	m := indexedLogLine.FindStringSubmatch(line)
	if m == nil {
		return
	}
	t.addObservation(m[1])
}

func (t *Tracker) addObservation(path string) {
	if path == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateStarting {
		t.state = StateIndexing
	}
	t.indexed[path] = struct{}{}

	if t.coverageCompleteLocked() {
		t.transitionLocked(StateReady)
		return
	}
	if t.progressEnded {
		t.resetQuiesceTimerLocked()
	}
}

func (t *Tracker) coverageCompleteLocked() bool {
	for f := range t.expected {
		if _, ok := t.indexed[f]; !ok {
			return false
		}
	}
	return true
}

func (t *Tracker) missingLocked() []string {
	var missing []string
	for f := range t.expected {
		if _, ok := t.indexed[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// resetQuiesceTimerLocked must be called with mu held. It (re)arms the
// quiescence timer; any new observation while progress has ended restarts
// the countdown, matching "a bounded quiescence period has elapsed with no
// new inputs".
func (t *Tracker) resetQuiesceTimerLocked() {
	if t.state == StateReady || t.state == StateDegraded {
		return
	}
	if t.quiesceTimer != nil {
		t.quiesceTimer.Stop()
	}
	t.quiesceTimer = time.AfterFunc(t.cfg.QuiescencePeriod, t.onQuiesceElapsed)
}

func (t *Tracker) onQuiesceElapsed() {
	t.mu.Lock()
	if t.state == StateReady || t.state == StateDegraded {
		t.mu.Unlock()
		return
	}
	if t.coverageCompleteLocked() {
		t.transitionLocked(StateReady)
		t.mu.Unlock()
		return
	}
	if t.remediated {
		t.transitionLocked(StateDegraded)
		t.mu.Unlock()
		return
	}
	t.remediated = true
	missing := t.missingLocked()
	t.mu.Unlock()

	t.runRemediation(missing)
}

// runRemediation forces an open+close for each missing file (spec §4.D
// "Remediation pass"), then schedules the single final coverage check.
func (t *Tracker) runRemediation(missing []string) {
	if t.opener != nil {
		for _, path := range missing {
			ctx, cancel := context.WithTimeout(context.Background(), t.cfg.OpenTimeout)
			if err := t.opener.EnsureOpen(ctx, path); err == nil {
				_ = t.opener.Close(path)
			}
			cancel()
		}
	}

	time.AfterFunc(t.cfg.RemediationWait, t.onFinalCheck)
}

func (t *Tracker) onFinalCheck() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateReady || t.state == StateDegraded {
		return
	}
	if t.coverageCompleteLocked() {
		t.transitionLocked(StateReady)
		return
	}
	t.transitionLocked(StateDegraded)
}

// transitionLocked must be called with mu held. It updates state and wakes
// every Wait caller exactly once per Bind generation.
func (t *Tracker) transitionLocked(s State) {
	t.state = s
	if (s == StateReady || s == StateDegraded) && !t.signaled {
		t.signaled = true
		close(t.readyCh)
	}
}

// Wait blocks until the tracker reaches a terminal state, the deadline
// expires, or ctx is done, whichever comes first (spec §4.D "wait_ready").
// A timeout never aborts indexing; the tracker keeps running in the
// background regardless of how many callers are waiting or for how long.
func (t *Tracker) Wait(ctx context.Context, timeout time.Duration) Outcome {
	t.mu.Lock()
	switch t.state {
	case StateReady:
		t.mu.Unlock()
		return OutcomeReady
	case StateDegraded:
		t.mu.Unlock()
		return OutcomeDegraded
	}
	ch := t.readyCh
	t.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		t.mu.Lock()
		s := t.state
		t.mu.Unlock()
		if s == StateDegraded {
			return OutcomeDegraded
		}
		return OutcomeReady
	case <-timer.C:
		return OutcomeTimeout
	case <-ctx.Done():
		return OutcomeTimeout
	}
}

// uriToPath strips the file:// scheme the LSP wire format wraps paths in.
func uriToPath(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}
