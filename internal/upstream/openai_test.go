package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sseEvent(w http.ResponseWriter, event string, data any) {
	raw, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, raw)
}

func newInvokerFor(serverURL string) *OpenAIInvoker {
	return NewOpenAIInvoker(OpenAIConfig{
		ResponsesURL: serverURL,
		Model:        "gpt-5",
		APIKey:       "sk-test",
	})
}

// collectOutcome drains the progress channel, then reads the outcome.
// Progress is always closed before Done settles, so this sees every note.
func collectOutcome(t *testing.T, inv *Invocation) ([]string, Outcome) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	var notes []string
	for {
		select {
		case note, ok := <-inv.Progress:
			if !ok {
				select {
				case outcome := <-inv.Done:
					return notes, outcome
				case <-deadline:
					t.Fatal("invocation never settled")
				}
			}
			notes = append(notes, note)
		case <-deadline:
			t.Fatal("invocation never settled")
		}
	}
}

func TestInvokeAssemblesStreamedPayload(t *testing.T) {
	t.Parallel()

	var gotAuth string
	var gotBody map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "response.web_search_call.in_progress", map[string]any{})
		sseEvent(w, "response.output_text.delta", map[string]string{"delta": `{"summary":`})
		sseEvent(w, "response.output_text.delta", map[string]string{"delta": `"ok"}`})
		sseEvent(w, "response.completed", map[string]any{})
	}))
	defer server.Close()

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{
		URL:   "https://x.test/a",
		Title: "Headline",
		Text:  "Body",
	})
	notes, outcome := collectOutcome(t, inv)

	require.Nil(t, outcome.Failure)
	require.JSONEq(t, `{"summary":"ok"}`, string(outcome.Payload))
	require.Equal(t, []string{"searching the web", "writing analysis"}, notes)

	require.Equal(t, "Bearer sk-test", gotAuth)
	require.Equal(t, "gpt-5", gotBody["model"])
	require.Equal(t, true, gotBody["stream"])
	input, _ := gotBody["input"].(string)
	require.Contains(t, input, "Headline: Headline")
	require.Contains(t, input, "URL: https://x.test/a")
	require.Contains(t, input, "Body")
}

func TestInvokeClassifiesOverloadStatusAsRetriable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":"rate_limit_exceeded"}}`, http.StatusTooManyRequests)
	}))
	defer server.Close()

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{URL: "https://x.test/a"})
	_, outcome := collectOutcome(t, inv)

	require.NotNil(t, outcome.Failure)
	require.True(t, outcome.Failure.Retriable)
}

func TestInvokeClassifiesClientErrorAsPermanent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":"invalid_request_error"}}`, http.StatusBadRequest)
	}))
	defer server.Close()

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{URL: "https://x.test/a"})
	_, outcome := collectOutcome(t, inv)

	require.NotNil(t, outcome.Failure)
	require.False(t, outcome.Failure.Retriable)
}

func TestInvokeClassifiesStreamedFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "response.failed", map[string]any{
			"response": map[string]any{
				"error": map[string]string{"code": "server_overloaded", "message": "try later"},
			},
		})
	}))
	defer server.Close()

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{URL: "https://x.test/a"})
	_, outcome := collectOutcome(t, inv)

	require.NotNil(t, outcome.Failure)
	require.True(t, outcome.Failure.Retriable)
	require.Contains(t, outcome.Failure.Error(), "try later")
}

func TestInvokeRejectsNonJSONOutput(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		sseEvent(w, "response.output_text.delta", map[string]string{"delta": "Sorry, I cannot help."})
		sseEvent(w, "response.completed", map[string]any{})
	}))
	defer server.Close()

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{URL: "https://x.test/a"})
	_, outcome := collectOutcome(t, inv)

	require.NotNil(t, outcome.Failure)
	require.False(t, outcome.Failure.Retriable)
}

func TestInvokeReportsTransportError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // connection refused from here on

	invoker := newInvokerFor(server.URL)
	inv := invoker.Invoke(context.Background(), "https://x.test/a", Request{URL: "https://x.test/a"})
	_, outcome := collectOutcome(t, inv)

	require.NotNil(t, outcome.Failure)
	require.False(t, outcome.Failure.Retriable)
}
