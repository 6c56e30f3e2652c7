package sqlgen

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitaliisemenov/pgquery-mcp/internal/llm"
	"github.com/vitaliisemenov/pgquery-mcp/internal/ratelimit"
	"github.com/vitaliisemenov/pgquery-mcp/internal/resilience"
	"github.com/vitaliisemenov/pgquery-mcp/internal/schema"
)

func testSummary() *schema.Summary {
	tables := []*schema.Table{
		{
			Schema: "public", Name: "orders",
			Columns: []schema.Column{
				{Name: "id", Type: "integer", IsPrimaryKey: true},
				{Name: "total_cents", Type: "integer"},
			},
		},
	}
	return schema.NewSummaryForTesting("appdb", tables, nil, nil)
}

func testBreaker(t *testing.T) *resilience.CircuitBreaker {
	t.Helper()
	cb, err := resilience.NewCircuitBreaker("llm", resilience.CircuitBreakerConfig{
		MaxFailures:      3,
		ResetTimeout:     20 * time.Millisecond,
		FailureThreshold: 0.5,
		TimeWindow:       time.Second,
		HalfOpenMaxCalls: 1,
	}, nil, nil)
	require.NoError(t, err)
	return cb
}

func newTestGenerator(t *testing.T, serverURL string) *Generator {
	t.Helper()
	client := llm.NewClient(llm.Config{BaseURL: serverURL, Model: "gpt-4o-mini", Timeout: 2 * time.Second}, nil)
	return New(client, testBreaker(t), ratelimit.New("llm", 2, nil), schema.NewRelevanceSelector(8), nil, nil)
}

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}, "finish_reason": "stop"},
			},
			"usage": map[string]int{"total_tokens": 17},
		})
	}))
}

func TestGenerate_ParsesWellFormedEnvelope(t *testing.T) {
	server := chatServer(t, `{"sql": "SELECT * FROM public.orders", "confidence": 85}`, http.StatusOK)
	defer server.Close()

	g := newTestGenerator(t, server.URL)
	result, err := g.Generate(context.Background(), "show me all orders", testSummary(), nil)

	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM public.orders", result.SQL)
	assert.Equal(t, 85, result.Confidence)
	assert.Equal(t, 17, result.TokensUsed)
}

func TestGenerate_StripsMarkdownCodeFence(t *testing.T) {
	fenced := "```json\n{\"sql\": \"SELECT 1\", \"confidence\": 60}\n```"
	server := chatServer(t, fenced, http.StatusOK)
	defer server.Close()

	g := newTestGenerator(t, server.URL)
	result, err := g.Generate(context.Background(), "trivial", testSummary(), nil)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.SQL)
}

func TestGenerate_MalformedResponseFails(t *testing.T) {
	server := chatServer(t, "not json at all", http.StatusOK)
	defer server.Close()

	g := newTestGenerator(t, server.URL)
	_, err := g.Generate(context.Background(), "anything", testSummary(), nil)

	require.ErrorIs(t, err, ErrLLMMalformed)
}

func TestGenerate_EmptySQLFieldFails(t *testing.T) {
	server := chatServer(t, `{"sql": "", "confidence": 10}`, http.StatusOK)
	defer server.Close()

	g := newTestGenerator(t, server.URL)
	_, err := g.Generate(context.Background(), "anything", testSummary(), nil)

	require.ErrorIs(t, err, ErrLLMMalformed)
}

func TestGenerate_UpstreamFailureMapsToUnavailable(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := llm.NewClient(llm.Config{BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 2 * time.Second}, nil)
	breaker, err := resilience.NewCircuitBreaker("llm", resilience.CircuitBreakerConfig{
		MaxFailures: 1, ResetTimeout: time.Second, FailureThreshold: 1, TimeWindow: time.Second, HalfOpenMaxCalls: 1,
	}, nil, nil)
	require.NoError(t, err)
	g := New(client, breaker, ratelimit.New("llm", 1, nil), schema.NewRelevanceSelector(8), nil, nil)

	_, err = g.Generate(context.Background(), "anything", testSummary(), nil)
	require.ErrorIs(t, err, ErrLLMUnavailable)
	assert.Equal(t, 1, calls, "Generate must make exactly one physical LLM call per logical call")
}

func TestGenerate_BreakerTripsOneConsecutiveFailurePerCall(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := llm.NewClient(llm.Config{BaseURL: server.URL, Model: "gpt-4o-mini", Timeout: 2 * time.Second}, nil)
	breaker, err := resilience.NewCircuitBreaker("llm", resilience.CircuitBreakerConfig{
		MaxFailures: 3, ResetTimeout: time.Minute, FailureThreshold: 1, TimeWindow: time.Minute, HalfOpenMaxCalls: 1,
	}, nil, nil)
	require.NoError(t, err)
	g := New(client, breaker, ratelimit.New("llm", 1, nil), schema.NewRelevanceSelector(8), nil, nil)

	// Three logical calls, each making exactly one physical request, trip
	// the breaker on the third; a fourth and fifth logical call must then
	// fail fast without ever reaching the server.
	for i := 0; i < 3; i++ {
		_, err := g.Generate(context.Background(), "anything", testSummary(), nil)
		require.ErrorIs(t, err, ErrLLMUnavailable)
	}
	assert.Equal(t, 3, calls, "each of the first three logical calls must cost exactly one physical call")

	for i := 0; i < 2; i++ {
		_, err := g.Generate(context.Background(), "anything", testSummary(), nil)
		require.ErrorIs(t, err, ErrLLMUnavailable)
	}
	assert.Equal(t, 3, calls, "once tripped, further logical calls must fail fast with no outbound request")
}

func TestGenerate_IncludesRetryHistoryInPrompt(t *testing.T) {
	var sawFailureReason bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []llm.Message `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		for _, m := range body.Messages {
			if m.Role == "user" && strings.Contains(m.Content, "syntax error") {
				sawFailureReason = true
			}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": `{"sql":"SELECT 1","confidence":50}`}, "finish_reason": "stop"},
			},
		})
	}))
	defer server.Close()

	g := newTestGenerator(t, server.URL)
	_, err := g.Generate(context.Background(), "follow-up question", testSummary(), []Attempt{
		{PreviousSQL: "SELEC 1", FailureReason: "syntax error"},
	})

	require.NoError(t, err)
	assert.True(t, sawFailureReason, "retry history's failure reason must reach the prompt")
}
