package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func makeRequirements(n int) []Requirement {
	reqs := make([]Requirement, 0, n)
	for i := 1; i <= n; i++ {
		reqs = append(reqs, Requirement{RowID: RowID(fmt.Sprintf("r%02d", i)), Text: fmt.Sprintf("requirement %d", i)})
	}
	return reqs
}

func testOptions(workers int) Options {
	opts := DefaultOptions()
	opts.MaxWorkers = workers
	opts.RetryBaseDelay = 5 * time.Millisecond
	opts.RetryMaxDelay = 50 * time.Millisecond
	opts.ShutdownDrainDeadline = 5 * time.Second
	opts.WriteRetryDelay = time.Millisecond
	return opts
}

type fakeSource struct {
	mu         sync.Mutex
	reqs       []Requirement
	listErr    error
	writes     map[RowID][]string
	writeCalls int
	// failWrites is the number of failing writes left per row; -1 fails forever.
	failWrites map[RowID]int
}

func newFakeSource(reqs []Requirement) *fakeSource {
	return &fakeSource{reqs: reqs, writes: map[RowID][]string{}, failWrites: map[RowID]int{}}
}

func (s *fakeSource) ListRequirements(ctx context.Context) ([]Requirement, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return append([]Requirement(nil), s.reqs...), nil
}

func (s *fakeSource) WriteResult(ctx context.Context, row RowID, statement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeCalls++
	if n := s.failWrites[row]; n != 0 {
		if n > 0 {
			s.failWrites[row] = n - 1
		}
		return errors.New("sheet write failed")
	}
	s.writes[row] = append(s.writes[row], statement)
	return nil
}

func (s *fakeSource) written() map[RowID][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[RowID][]string, len(s.writes))
	for k, v := range s.writes {
		out[k] = append([]string(nil), v...)
	}
	return out
}

type evalReply struct {
	stmt string
	err  error
}

// gatedEvaluator blocks every call until the test releases it.
type gatedEvaluator struct {
	mu      sync.Mutex
	started []RowID
	gates   map[RowID]chan evalReply
	startCh chan RowID
}

func newGatedEvaluator() *gatedEvaluator {
	return &gatedEvaluator{gates: map[RowID]chan evalReply{}, startCh: make(chan RowID, 128)}
}

func (g *gatedEvaluator) Evaluate(ctx context.Context, q Query) (string, error) {
	ch := make(chan evalReply, 1)
	g.mu.Lock()
	g.started = append(g.started, q.Requirement.RowID)
	g.gates[q.Requirement.RowID] = ch
	g.mu.Unlock()

	g.startCh <- q.Requirement.RowID
	r := <-ch
	return r.stmt, r.err
}

func (g *gatedEvaluator) waitStarted(t *testing.T, rows ...RowID) {
	t.Helper()
	want := make(map[RowID]bool, len(rows))
	for _, r := range rows {
		want[r] = true
	}
	timeout := time.After(2 * time.Second)
	for len(want) > 0 {
		select {
		case r := <-g.startCh:
			require.True(t, want[r], "unexpected call started for %s", r)
			delete(want, r)
		case <-timeout:
			t.Fatalf("timed out waiting for calls to start: %v", want)
		}
	}
}

func (g *gatedEvaluator) release(t *testing.T, row RowID, reply evalReply) {
	t.Helper()
	g.mu.Lock()
	ch := g.gates[row]
	g.mu.Unlock()
	require.NotNil(t, ch, "no call in flight for %s", row)
	ch <- reply
}

func (g *gatedEvaluator) startedRows() []RowID {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]RowID(nil), g.started...)
}

func collect(t *testing.T, results <-chan EvaluationResult, errCh <-chan error) (map[RowID]EvaluationResult, error) {
	t.Helper()
	got := map[RowID]EvaluationResult{}
	timeout := time.After(10 * time.Second)
	for {
		select {
		case res, ok := <-results:
			if !ok {
				return got, <-errCh
			}
			_, dup := got[res.RowID]
			require.False(t, dup, "duplicate result for %s", res.RowID)
			got[res.RowID] = res
		case <-timeout:
			t.Fatal("timed out waiting for results")
			return nil, nil
		}
	}
}

func okEvaluator(ctx context.Context, q Query) (string, error) {
	return "Compliant. (Reference: policy.md)", nil
}

// stuckSource lists its requirements but never finishes a write until the
// write's context is done.
type stuckSource struct {
	reqs  []Requirement
	mu    sync.Mutex
	calls int
}

func (s *stuckSource) ListRequirements(ctx context.Context) ([]Requirement, error) {
	return append([]Requirement(nil), s.reqs...), nil
}

func (s *stuckSource) WriteResult(ctx context.Context, row RowID, statement string) error {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	<-ctx.Done()
	return ctx.Err()
}

func (s *stuckSource) writeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
