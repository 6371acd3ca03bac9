package service

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"

	"cariusb-relay/internal/domain"
	"cariusb-relay/internal/repository"
	"cariusb-relay/internal/upstream"
)

type fakeUsageRepo struct {
	mu      sync.Mutex
	rows    map[string]domain.Usage
	findErr    error
	increments int
}

func newFakeUsageRepo() *fakeUsageRepo {
	return &fakeUsageRepo{rows: make(map[string]domain.Usage)}
}

func usageKey(userID, guestID string) string {
	return domain.Identity{UserID: userID, GuestID: guestID}.Key()
}

func (r *fakeUsageRepo) Find(_ context.Context, id domain.Identity) (domain.Usage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.Usage{}, r.findErr
	}
	u, ok := r.rows[id.Key()]
	if !ok {
		return domain.Usage{}, pgx.ErrNoRows
	}
	return u, nil
}

// Increment replica la sentencia atomica de PgUsageRepository.
func (r *fakeUsageRepo) Increment(_ context.Context, inc repository.UsageIncrement) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.increments++
	deep := 0
	if inc.Deepsearch {
		deep = 1
	}
	key := usageKey(inc.UserID, inc.GuestID)
	u, ok := r.rows[key]
	if !ok {
		u = domain.Usage{UserID: inc.UserID, GuestID: inc.GuestID, Plan: inc.Plan}
	}
	if !ok || u.NeedsReset(inc.At) {
		u.MessagesUsed, u.DeepsearchUsed, u.LastReset = 1, deep, inc.At
	} else {
		u.MessagesUsed++
		u.DeepsearchUsed += deep
	}
	r.rows[key] = u
	return nil
}

func (r *fakeUsageRepo) get(key string) (domain.Usage, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.rows[key]
	return u, ok
}

type fakeProfileRepo struct {
	plans map[string]domain.Plan
	err   error
}

func (r *fakeProfileRepo) GetPlan(_ context.Context, userID string) (domain.Plan, error) {
	if r.err != nil {
		return "", r.err
	}
	plan, ok := r.plans[userID]
	if !ok {
		return "", pgx.ErrNoRows
	}
	return plan, nil
}

type fakeForwarder struct {
	mu      sync.Mutex
	outcome func() *upstream.Outcome
	calls   int
	last    domain.ChatRequest
	target  domain.UpstreamTarget
}

func (f *fakeForwarder) Forward(_ context.Context, target domain.UpstreamTarget, req domain.ChatRequest) *upstream.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.last = req
	f.target = target
	return f.outcome()
}

func successOutcome(contentType, body string) func() *upstream.Outcome {
	return func() *upstream.Outcome {
		resp := &http.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"Content-Type": []string{contentType}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}
		return &upstream.Outcome{Kind: upstream.OutcomeSuccess, StatusCode: http.StatusOK, Response: resp}
	}
}

type denyLimiter struct{}

func (denyLimiter) Allow(string) bool { return false }
