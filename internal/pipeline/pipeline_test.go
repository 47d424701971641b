package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	b := Backoff{Base: 2 * time.Second, Max: 30 * time.Second}
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 2 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{60, 30 * time.Second},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, b.Delay(tc.attempt), "attempt %d", tc.attempt)
	}

	assert.Zero(t, Backoff{}.Delay(3))
	assert.Greater(t, Backoff{Base: time.Second}.Delay(200), time.Duration(0))
}

func TestBackoffJitterStaysInRange(t *testing.T) {
	b := Backoff{Base: 100 * time.Millisecond, Max: time.Second, Jitter: 0.5}
	for i := 0; i < 100; i++ {
		d := b.Delay(2)
		assert.GreaterOrEqual(t, d, 200*time.Millisecond)
		assert.LessOrEqual(t, d, 300*time.Millisecond)
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := [][2]State{
		{StateIdle, StateRunning},
		{StateIdle, StateCompleted},
		{StateRunning, StateDraining},
		{StateRunning, StateFatalAborted},
		{StateDraining, StateCompleted},
		{StateDraining, StateFatalAborted},
	}
	for _, tr := range allowed {
		assert.NoError(t, validateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]State{
		{StateIdle, StateDraining},
		{StateRunning, StateCompleted},
		{StateCompleted, StateRunning},
		{StateFatalAborted, StateCompleted},
		{StateDraining, StateRunning},
	}
	for _, tr := range denied {
		assert.Error(t, validateTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFatalAborted.IsTerminal())
	assert.False(t, StateDraining.IsTerminal())
}

func TestErrorKindClass(t *testing.T) {
	assert.Equal(t, ClassTransient, KindRateLimited.Class())
	assert.Equal(t, ClassTransient, KindTransientNetwork.Class())
	assert.Equal(t, ClassFatal, KindQuotaExhausted.Class())
	assert.Equal(t, ClassFatal, KindAuthFailed.Class())
	assert.Equal(t, ClassTerminal, KindContentRejected.Class())
	assert.Equal(t, ClassTerminal, KindWritebackFailed.Class())
	assert.Equal(t, ClassTerminal, KindUnknown.Class())
	assert.Equal(t, "fatal", ClassFatal.String())
}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	assert.Equal(t, ErrorKind(""), KindOf(nil))
	assert.Equal(t, KindUnknown, KindOf(base))
	assert.Equal(t, KindRateLimited, KindOf(Classify(KindRateLimited, base)))
	assert.Equal(t, KindAuthFailed, KindOf(fmt.Errorf("call: %w", Classify(KindAuthFailed, base))))
	assert.Equal(t, KindAbortedByShutdown, KindOf(fmt.Errorf("wrapped: %w", context.Canceled)))
	assert.Nil(t, Classify(KindUnknown, nil))

	err := Classify(KindTransientNetwork, base)
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "TransientNetwork: boom", err.Error())
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	opts := DefaultOptions()
	opts.MaxAttempts = 0
	assert.ErrorContains(t, opts.Validate(), "MaxAttempts")

	opts = DefaultOptions()
	opts.ShutdownDrainDeadline = 0
	assert.ErrorContains(t, opts.Validate(), "ShutdownDrainDeadline")

	opts = DefaultOptions()
	opts.RetryJitter = 1.5
	assert.ErrorContains(t, opts.Validate(), "RetryJitter")

	opts = DefaultOptions()
	opts.RetryMaxDelay = time.Second
	assert.ErrorContains(t, opts.Validate(), "RetryMaxDelay")
}

func TestWritebackIgnoresDuplicatesAndFillsMissing(t *testing.T) {
	reqs := makeRequirements(3)
	src := newFakeSource(reqs)
	var outcomes []RowOutcome
	w := NewWriteback(src, reqs, WritebackConfig{
		MaxAttempts: 1,
		Observer:    func(o RowOutcome) { outcomes = append(outcomes, o) },
	})

	results := make(chan EvaluationResult, 4)
	results <- EvaluationResult{RowID: "r03", Statement: "third", Attempt: 1}
	results <- EvaluationResult{RowID: "r01", Statement: "first", Attempt: 2}
	results <- EvaluationResult{RowID: "r01", Statement: "again", Attempt: 1}
	results <- EvaluationResult{RowID: "zz", Statement: "stray", Attempt: 1}
	close(results)

	report := &RunReport{Failures: []Failure{}}
	w.Consume(context.Background(), results, report)

	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Retried)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, Failure{RowID: "r02", Kind: KindAbortedByShutdown, Message: "no result received"}, report.Failures[0])

	written := src.written()
	assert.Equal(t, []string{"first"}, written["r01"])
	assert.Equal(t, []string{"third"}, written["r03"])
	assert.NotContains(t, written, RowID("zz"))
	require.Len(t, outcomes, 3)
	assert.Equal(t, "requirement 3", outcomes[0].Requirement)
}

func TestWritebackSortsFailuresByInputOrder(t *testing.T) {
	reqs := makeRequirements(4)
	src := newFakeSource(reqs)
	w := NewWriteback(src, reqs, WritebackConfig{MaxAttempts: 1})

	results := make(chan EvaluationResult, 4)
	for _, id := range []RowID{"r04", "r02", "r03", "r01"} {
		results <- EvaluationResult{RowID: id, Attempt: 1, Failure: &Failure{RowID: id, Kind: KindContentRejected, Attempt: 1}}
	}
	close(results)

	report := &RunReport{}
	w.Consume(context.Background(), results, report)
	require.Len(t, report.Failures, 4)
	for i, f := range report.Failures {
		assert.Equal(t, reqs[i].RowID, f.RowID)
	}
	assert.Empty(t, src.written())
}

func TestValidateListing(t *testing.T) {
	require.NoError(t, validateListing(makeRequirements(5)))
	require.NoError(t, validateListing(nil))
	assert.ErrorIs(t, validateListing([]Requirement{{RowID: "a"}, {RowID: "a"}}), ErrDuplicateRowID)
	assert.ErrorIs(t, validateListing([]Requirement{{RowID: ""}}), ErrEmptyRowID)
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.observeAttempt(KindUnknown, time.Second)
	m.inFlight(1)
	m.retry()
	m.row(StatusFailed)
	m.write(errors.New("x"))
}

func TestRunReportDuration(t *testing.T) {
	var r *RunReport
	assert.Zero(t, r.Duration())
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	r = &RunReport{StartedAt: start, FinishedAt: start.Add(3 * time.Second)}
	assert.Equal(t, 3*time.Second, r.Duration())
}
