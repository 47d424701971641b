package model

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RequestBudget tracks the provider's advertised request allowance.
//
// Budgets start unknown (no limit). Once a response carries
// x-ratelimit-remaining-requests the budget is enforced until
// x-ratelimit-reset-requests elapses; Retry-After opens a cooldown during which
// every Acquire blocks.
type RequestBudget struct {
	mu           sync.Mutex
	known        bool
	remaining    int
	reset        time.Time
	cooldown     time.Time
	resetPending bool
	now          func() time.Time
	notifyCh     chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		now:      time.Now,
		notifyCh: make(chan struct{}),
	}
}

// Remaining returns the last advertised allowance, or -1 when unknown.
func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.known {
		return -1
	}
	return b.remaining
}

// Acquire blocks until one request may be sent or ctx is done.
func (b *RequestBudget) Acquire(ctx context.Context) error {
	if b == nil {
		return nil
	}
	for {
		b.mu.Lock()
		now := b.now()
		ch := b.notifyCh

		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case !b.known || b.remaining > 0:
			if b.known {
				b.remaining--
			}
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// The window has reset but no fresh headers were seen: let one
			// request through to observe the new budget, then wait for it.
			if !b.resetPending {
				b.resetPending = true
				b.mu.Unlock()
				return nil
			}
		default:
			until = b.reset
		}
		b.mu.Unlock()

		if err := waitUntil(ctx, b.now, until, ch); err != nil {
			return err
		}
	}
}

// waitUntil sleeps until deadline (forever if zero), a budget update, or ctx end.
func waitUntil(ctx context.Context, now func() time.Time, deadline time.Time, notify <-chan struct{}) error {
	var timerC <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(max(deadline.Sub(now()), 0))
		defer timer.Stop()
		timerC = timer.C
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-notify:
	case <-timerC:
	}
	return nil
}

// UpdateFromResponse reads the rate limit headers of resp.
func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	changed := false

	if until, ok := parseRetryAfter(resp.Header.Get("Retry-After"), now); ok && until.After(b.cooldown) {
		b.cooldown = until
		changed = true
	}

	if v := resp.Header.Get("X-Ratelimit-Remaining-Requests"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 0 {
			if !b.known || b.remaining != n {
				b.known = true
				b.remaining = n
				changed = true
			}
		}
	}

	if v := resp.Header.Get("X-Ratelimit-Reset-Requests"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d >= 0 {
			b.reset = now.Add(d)
			changed = true
		}
	}

	if changed {
		b.resetPending = false
		close(b.notifyCh)
		b.notifyCh = make(chan struct{})
	}
}

// release ends an outstanding post-reset request that produced no fresh
// limits, so the next Acquire may send another one.
func (b *RequestBudget) release() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.resetPending {
		return
	}
	b.resetPending = false
	close(b.notifyCh)
	b.notifyCh = make(chan struct{})
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t, true
	}
	return time.Time{}, false
}

type budgetTransport struct {
	budget *RequestBudget
	next   http.RoundTripper
}

// RoundTrip waits for budget before sending and records the limits the
// provider returns.
func (t *budgetTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.budget.Acquire(req.Context()); err != nil {
		return nil, err
	}
	resp, err := t.next.RoundTrip(req)
	if err != nil {
		t.budget.release()
		return nil, err
	}
	t.budget.UpdateFromResponse(resp)
	t.budget.release()
	return resp, nil
}
