package chatclient

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"cariusb-relay/internal/domain"
)

func testRequest() domain.ChatRequest {
	return domain.ChatRequest{Message: "hola", UserPlan: domain.PlanGuest, DomainMode: domain.DomainModeTech}
}

func newTestClient(url string, timeout time.Duration) *Client {
	return New(Config{Endpoint: url, Timeout: timeout, MaxRetries: DefaultMaxRetries}, nil)
}

func collect(s *Stream) []domain.Event {
	var out []domain.Event
	for ev := range s.All() {
		out = append(out, ev)
	}
	return out
}

func ndjsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, body)
	}
}

func TestStream_RoutesEventsInOrder(t *testing.T) {
	body := `{"type":"agent","payload":{"intent":"greet"}}` + "\n" +
		`{"type":"text","delta":"Hola"}` + "\n" +
		`{"type":"text","delta":""}` + "\n" +
		`{"type":"ping"}` + "\n" +
		`not json ` + "\n" +
		`{"type":"done","usage":{"tokens":3}}` + "\n" +
		`{"type":"text","delta":"after done"}` + "\n"
	srv := httptest.NewServer(ndjsonHandler(body))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest()))

	require.Len(t, events, 4)
	require.IsType(t, domain.AgentEvent{}, events[0])
	require.Equal(t, domain.TextEvent{Delta: "Hola"}, events[1])
	require.Equal(t, domain.TextEvent{Delta: "not json\n"}, events[2])
	done, ok := events[3].(domain.DoneEvent)
	require.True(t, ok)
	require.Equal(t, 3, *done.Usage.Tokens)
}

func TestStream_SynthesizesDoneAtEndOfBody(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(`{"type":"text","delta":"a"}` + "\n" + `{"type":"text","delta":"b"}`))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest()))

	require.Equal(t, []domain.Event{
		domain.TextEvent{Delta: "a"},
		domain.TextEvent{Delta: "b"},
		domain.DoneEvent{},
	}, events)
}

func TestStream_ErrorEventEndsStream(t *testing.T) {
	srv := httptest.NewServer(ndjsonHandler(`{"type":"error","code":"limit_exceeded"}` + "\n" + `{"type":"done"}` + "\n"))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest()))

	require.Equal(t, []domain.Event{domain.ErrorEvent{Code: domain.CodeLimitExceeded}}, events)
}

func TestStream_NonSuccessStatus(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   domain.ErrorEvent
	}{
		{"error event in body", http.StatusInternalServerError, `{"type":"error","code":"upstream_error","message":"boom"}` + "\n", domain.ErrorEvent{Code: domain.CodeUpstreamError, Message: "boom"}},
		{"error without message", http.StatusInternalServerError, `{"type":"error","code":"x"}`, domain.ErrorEvent{Code: "x", Message: "Unknown error"}},
		{"400", http.StatusBadRequest, "", domain.ErrorEvent{Code: domain.CodeInvalidRequest, Message: "HTTP 400"}},
		{"429", http.StatusTooManyRequests, "slow down", domain.ErrorEvent{Code: domain.CodeLimitExceeded, Message: "HTTP 429"}},
		{"502 without event", http.StatusBadGateway, "<html>bad gateway</html>", domain.ErrorEvent{Code: domain.CodeUpstreamUnavailable, Message: "HTTP 502"}},
		{"503", http.StatusServiceUnavailable, "", domain.ErrorEvent{Code: domain.CodeUnknown, Message: "HTTP 503"}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(c.status)
				_, _ = io.WriteString(w, c.body)
			}))
			defer srv.Close()

			events := collect(newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest()))

			require.Equal(t, []domain.Event{c.want}, events)
			require.EqualValues(t, 1, hits.Load(), "synthesized errors never retry")
		})
	}
}

func TestStream_RetriesOnceOnExplicit502(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = io.WriteString(w, `{"type":"error","code":"upstream_failed","message":"gateway"}`+"\n")
			return
		}
		ndjsonHandler(`{"type":"text","delta":"ok"}`+"\n"+`{"type":"done"}`+"\n")(w, r)
	}))
	defer srv.Close()

	s := newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest())
	events := collect(s)

	require.Equal(t, []domain.Event{
		domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: "Service temporarily unavailable, retrying...", Transient: true},
		domain.TextEvent{Delta: "ok"},
		domain.DoneEvent{},
	}, events)
	require.EqualValues(t, 2, hits.Load())
	require.Equal(t, 2, s.Attempts())
}

func TestStream_Explicit502ExhaustsBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
		_, _ = io.WriteString(w, `{"type":"error","code":"upstream_failed","message":"gateway"}`+"\n")
	}))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest()))

	require.Len(t, events, 2)
	require.True(t, events[0].(domain.ErrorEvent).Transient)
	require.Equal(t, domain.ErrorEvent{Code: domain.CodeUpstreamUnavailable, Message: "gateway"}, events[1])
	require.EqualValues(t, 2, hits.Load())
}

// hangingHandler bloquea hasta que el cliente corta la conexion. El body se
// consume primero: el server solo detecta la desconexion despues de leerlo.
func hangingHandler(w http.ResponseWriter, r *http.Request) {
	_, _ = io.Copy(io.Discard, r.Body)
	<-r.Context().Done()
}

func TestStream_TimeoutThenSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			hangingHandler(w, r)
			return
		}
		ndjsonHandler(`{"type":"text","delta":"late"}` + "\n" + `{"type":"done"}` + "\n")(w, r)
	}))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, 50*time.Millisecond).Stream(context.Background(), testRequest()))

	require.Equal(t, []domain.Event{
		domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: "Request timed out, retrying...", Transient: true},
		domain.TextEvent{Delta: "late"},
		domain.DoneEvent{},
	}, events)
	require.EqualValues(t, 2, hits.Load())
}

func TestStream_TimeoutTwiceFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		hangingHandler(w, r)
	}))
	defer srv.Close()

	events := collect(newTestClient(srv.URL, 50*time.Millisecond).Stream(context.Background(), testRequest()))

	require.Len(t, events, 2)
	require.True(t, events[0].(domain.ErrorEvent).Transient)
	require.Equal(t, domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: "Request timed out after 50ms"}, events[1])
	require.True(t, domain.IsTerminal(events[1]))
	require.EqualValues(t, 2, hits.Load())
}

func TestStream_NoRetryBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(hangingHandler))
	defer srv.Close()

	c := New(Config{Endpoint: srv.URL, Timeout: 30 * time.Millisecond, MaxRetries: 0}, nil)
	events := collect(c.Stream(context.Background(), testRequest()))

	require.Equal(t, []domain.Event{domain.ErrorEvent{Code: domain.CodeUpstreamTimeout, Message: "Request timed out after 30ms"}}, events)
}

func TestStream_NetworkFailureIsUnknown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(hangingHandler))
	url := srv.URL
	srv.Close()

	events := collect(newTestClient(url, time.Second).Stream(context.Background(), testRequest()))

	require.Len(t, events, 1)
	ev := events[0].(domain.ErrorEvent)
	require.Equal(t, domain.CodeUnknown, ev.Code)
	require.NotEmpty(t, ev.Message)
}

func TestStream_CloseAbortsInFlightBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"type":"text","delta":"first"}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s := newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest())
	ev, ok := s.Next()
	require.True(t, ok)
	require.Equal(t, domain.TextEvent{Delta: "first"}, ev)

	go func() {
		time.Sleep(20 * time.Millisecond)
		s.Close()
	}()

	done := make(chan bool, 1)
	go func() {
		_, ok := s.Next()
		done <- ok
	}()
	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Next did not return after Close")
	}

	_, ok = s.Next()
	require.False(t, ok)
}

func TestStream_BreakingRangeClosesStream(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"type":"text","delta":"a"}`+"\n")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	s := newTestClient(srv.URL, time.Second).Stream(context.Background(), testRequest())
	for ev := range s.All() {
		require.Equal(t, domain.TextEvent{Delta: "a"}, ev)
		break
	}
	require.True(t, s.isClosed())
	_, ok := s.Next()
	require.False(t, ok)
}

func TestStream_SendsBearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		ndjsonHandler(`{"type":"done"}` + "\n")(w, r)
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.AccessToken = "tok"
	collect(New(cfg, nil).Stream(context.Background(), testRequest()))

	require.Equal(t, "Bearer tok", auth)
}
