package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

const defaultResponsesURL = "https://api.openai.com/v1/responses"

// Article analyses routinely run for minutes while the model searches the
// web, so the response body is streamed and no client timeout is set unless
// the caller provides one.
const instructions = "You are a fact-checking assistant. Search the web for " +
	"coverage of the article below, then respond with a single JSON object " +
	"containing: \"summary\" (string), \"claims\" (array of {\"claim\", " +
	"\"assessment\", \"sources\"}), and \"confidence\" (0-100 integer). " +
	"Respond with JSON only, no prose."

// OpenAIConfig configures the responses-endpoint invoker.
type OpenAIConfig struct {
	// ResponsesURL overrides the endpoint, primarily for tests.
	ResponsesURL string
	Model        string
	APIKey       string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// OpenAIInvoker runs analyses through the OpenAI responses API with the
// web_search tool enabled, streaming server-sent events so search and
// generation milestones can be surfaced as progress notes.
type OpenAIInvoker struct {
	cfg    OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIInvoker builds an OpenAIInvoker.
func NewOpenAIInvoker(cfg OpenAIConfig) *OpenAIInvoker {
	if strings.TrimSpace(cfg.ResponsesURL) == "" {
		cfg.ResponsesURL = defaultResponsesURL
	}
	if cfg.HTTPClient == nil {
		// No Timeout on the default client: invocations legitimately run
		// for minutes and the broker never cancels them server-side.
		cfg.HTTPClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIInvoker{cfg: cfg, logger: logger}
}

// Invoke starts the upstream call and returns immediately. The heavy lifting
// happens on a dedicated goroutine that feeds the returned channels.
func (o *OpenAIInvoker) Invoke(ctx context.Context, key string, req Request) *Invocation {
	progress := make(chan string, 8)
	done := make(chan Outcome, 1)
	go o.run(ctx, key, req, progress, done)
	return &Invocation{Progress: progress, Done: done}
}

func (o *OpenAIInvoker) run(ctx context.Context, key string, req Request, progress chan<- string, done chan<- Outcome) {
	outcome := o.execute(ctx, key, req, progress)
	close(progress)
	done <- outcome
	close(done)
}

func (o *OpenAIInvoker) execute(ctx context.Context, key string, req Request, progress chan<- string) Outcome {
	body, err := json.Marshal(map[string]any{
		"model":        o.cfg.Model,
		"stream":       true,
		"instructions": instructions,
		"tools":        []map[string]string{{"type": "web_search"}},
		"input":        buildInput(req),
	})
	if err != nil {
		return failureOutcome(fmt.Errorf("marshal request: %w", err), false)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.ResponsesURL, bytes.NewReader(body))
	if err != nil {
		return failureOutcome(fmt.Errorf("build request: %w", err), false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := o.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return failureOutcome(fmt.Errorf("call responses endpoint: %w", err), false)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			o.logger.Warn("close response body failed", zap.String("key", key), zap.Error(closeErr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
		err := fmt.Errorf("responses endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		return failureOutcome(err, isOverloadStatus(resp.StatusCode) || isOverloadBody(raw))
	}

	text, failure := o.consumeStream(resp.Body, key, progress)
	if failure != nil {
		return Outcome{Failure: failure}
	}

	payload := strings.TrimSpace(text)
	if !json.Valid([]byte(payload)) {
		return failureOutcome(fmt.Errorf("model produced no usable result for %s", key), false)
	}
	return Outcome{Payload: []byte(payload)}
}

// consumeStream reads server-sent events, forwarding coarse milestones as
// progress notes and accumulating the output text.
func (o *OpenAIInvoker) consumeStream(r io.Reader, key string, progress chan<- string) (string, *Failure) {
	var (
		out       strings.Builder
		event     string
		searching bool
		writing   bool
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if failure := o.handleEvent(event, data, &out, progress, &searching, &writing); failure != nil {
				return "", failure
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", &Failure{Err: fmt.Errorf("read event stream for %s: %w", key, err)}
	}
	return out.String(), nil
}

func (o *OpenAIInvoker) handleEvent(event, data string, out *strings.Builder, progress chan<- string, searching, writing *bool) *Failure {
	switch event {
	case "response.web_search_call.in_progress", "response.web_search_call.searching":
		if !*searching {
			*searching = true
			emit(progress, "searching the web")
		}
	case "response.output_text.delta":
		if !*writing {
			*writing = true
			emit(progress, "writing analysis")
		}
		var delta struct {
			Delta string `json:"delta"`
		}
		if err := json.Unmarshal([]byte(data), &delta); err == nil {
			out.WriteString(delta.Delta)
		}
	case "response.failed", "error":
		var payload struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
			Response struct {
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			} `json:"response"`
		}
		code := ""
		message := "upstream reported failure"
		if err := json.Unmarshal([]byte(data), &payload); err == nil {
			code = payload.Error.Code
			if code == "" {
				code = payload.Response.Error.Code
			}
			if payload.Error.Message != "" {
				message = payload.Error.Message
			} else if payload.Response.Error.Message != "" {
				message = payload.Response.Error.Message
			}
		}
		return &Failure{
			Err:       fmt.Errorf("%s (%s)", message, code),
			Retriable: isOverloadCode(code),
		}
	}
	return nil
}

func buildInput(req Request) string {
	var b strings.Builder
	if req.Title != "" {
		b.WriteString("Headline: ")
		b.WriteString(req.Title)
		b.WriteString("\n")
	}
	b.WriteString("URL: ")
	b.WriteString(req.URL)
	b.WriteString("\n\n")
	b.WriteString(req.Text)
	return b.String()
}

// emit never blocks; a slow consumer just misses intermediate notes.
func emit(progress chan<- string, note string) {
	select {
	case progress <- note:
	default:
	}
}

func failureOutcome(err error, retriable bool) Outcome {
	return Outcome{Failure: &Failure{Err: err, Retriable: retriable}}
}

func isOverloadStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

func isOverloadCode(code string) bool {
	switch code {
	case "rate_limit_exceeded", "overloaded", "server_overloaded", "insufficient_quota":
		return true
	default:
		return false
	}
}

func isOverloadBody(raw []byte) bool {
	var payload struct {
		Error struct {
			Code string `json:"code"`
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return false
	}
	return isOverloadCode(payload.Error.Code) || payload.Error.Type == "rate_limit_error"
}
