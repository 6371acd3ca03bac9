package upstream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cariusb-relay/internal/domain"
)

func newTestClient(timeout time.Duration) *Client {
	return NewClient(nil, timeout, nil)
}

func sampleRequest() domain.ChatRequest {
	return domain.ChatRequest{Message: "hola", UserPlan: domain.PlanFree, DomainMode: "MOTO "}
}

func TestForward_CustomSecretHeader(t *testing.T) {
	var gotHeader, gotAuth string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeader = r.Header.Get(SecretHeader)
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":"ok"}`))
	}))
	defer srv.Close()

	out := newTestClient(time.Second).Forward(context.Background(),
		domain.UpstreamTarget{Mode: domain.DomainModeMoto, URL: srv.URL, AuthSecret: "supersecret"}, sampleRequest())
	defer out.Close()

	require.True(t, out.OK(), "kind=%s", out.Kind)
	require.Equal(t, "supersecret", gotHeader)
	require.Empty(t, gotAuth)
	require.Equal(t, "moto", body["domainMode"])
	require.Equal(t, "hola", body["message"])
}

func TestForward_BasicAuthWhenSecretHasColon(t *testing.T) {
	var user, pass string
	var ok bool
	var custom string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok = r.BasicAuth()
		custom = r.Header.Get(SecretHeader)
	}))
	defer srv.Close()

	out := newTestClient(time.Second).Forward(context.Background(),
		domain.UpstreamTarget{URL: srv.URL, AuthSecret: "relay:pa:ss"}, sampleRequest())
	defer out.Close()

	require.True(t, out.OK())
	require.True(t, ok)
	require.Equal(t, "relay", user)
	require.Equal(t, "pa:ss", pass)
	require.Empty(t, custom)
}

func TestForward_ClassifiesStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		kind   OutcomeKind
		code   domain.ErrorCode
		msg    string
	}{
		{"unauthorized", http.StatusUnauthorized, "", OutcomeAuthFailure, domain.CodeUpstreamAuthError, "Authorization failed - check webhook secret"},
		{"forbidden", http.StatusForbidden, "nope", OutcomeAuthFailure, domain.CodeUpstreamAuthError, "Authorization failed - check webhook secret"},
		{"too many", http.StatusTooManyRequests, "", OutcomeRateLimited, domain.CodeLimitExceeded, ""},
		{"marker in body", http.StatusInternalServerError, `{"error":"limit_exceeded"}`, OutcomeRateLimited, domain.CodeLimitExceeded, ""},
		{"server error", http.StatusInternalServerError, "workflow   crashed\n", OutcomeHTTPError, domain.CodeUpstreamError, "workflow crashed"},
		{"empty body", http.StatusBadGateway, "", OutcomeHTTPError, domain.CodeUpstreamError, "HTTP 502"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(c.status)
				_, _ = io.WriteString(w, c.body)
			}))
			defer srv.Close()

			out := newTestClient(time.Second).Forward(context.Background(),
				domain.UpstreamTarget{URL: srv.URL, AuthSecret: "supersecret"}, sampleRequest())
			require.Equal(t, c.kind, out.Kind)
			require.Equal(t, c.status, out.StatusCode)
			require.Nil(t, out.Response)

			ev := out.ErrorEvent()
			require.Equal(t, c.code, ev.Code)
			require.Equal(t, c.msg, ev.Message)
		})
	}
}

func TestForward_TimeoutWhileWaitingForHeaders(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	out := newTestClient(30*time.Millisecond).Forward(context.Background(),
		domain.UpstreamTarget{URL: srv.URL, AuthSecret: "supersecret"}, sampleRequest())

	require.Equal(t, OutcomeTimeout, out.Kind)
	require.Less(t, time.Since(start), 2*time.Second)
	ev := out.ErrorEvent()
	require.Equal(t, domain.CodeUpstreamTimeout, ev.Code)
	require.Equal(t, "Request timed out", ev.Message)
}

func TestForward_TimeoutDoesNotCutStreamingBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		time.Sleep(80 * time.Millisecond)
		_, _ = io.WriteString(w, `{"type":"done"}`+"\n")
	}))
	defer srv.Close()

	out := newTestClient(30*time.Millisecond).Forward(context.Background(),
		domain.UpstreamTarget{URL: srv.URL, AuthSecret: "supersecret"}, sampleRequest())
	defer out.Close()

	require.True(t, out.OK())
	data, err := io.ReadAll(out.Response.Body)
	require.NoError(t, err)
	require.Equal(t, `{"type":"done"}`+"\n", string(data))
}

func TestForward_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	out := newTestClient(time.Second).Forward(context.Background(),
		domain.UpstreamTarget{URL: url, AuthSecret: "supersecret"}, sampleRequest())

	require.Equal(t, OutcomeNetworkFailure, out.Kind)
	require.Equal(t, domain.CodeUpstreamFailed, out.ErrorEvent().Code)
	require.NotEmpty(t, out.ErrorEvent().Message)
}

func TestOutcome_CloseIsIdempotent(t *testing.T) {
	calls := 0
	out := &Outcome{Kind: OutcomeSuccess, release: func() { calls++ }}
	out.Close()
	out.Close()
	require.Equal(t, 1, calls)

	var nilOutcome *Outcome
	nilOutcome.Close()
}
