// Package sqlgen turns a natural-language question plus a schema summary
// into a candidate SQL statement, using an LLM completion and a
// self-reported confidence score.
package sqlgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/vitaliisemenov/pgquery-mcp/internal/llm"
	"github.com/vitaliisemenov/pgquery-mcp/internal/ratelimit"
	"github.com/vitaliisemenov/pgquery-mcp/internal/resilience"
	"github.com/vitaliisemenov/pgquery-mcp/internal/schema"
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// Sentinel errors matching spec §4.2's failure modes.
var (
	ErrLLMUnavailable = errors.New("llm unavailable")
	ErrLLMMalformed   = errors.New("llm returned a malformed response")
	ErrLLMTimeout     = errors.New("llm request timed out")
)

const purpose = "sql_generation"

// Attempt records one prior failed generation so the model can correct
// itself on retry, per spec §4.2's optional retry history.
type Attempt struct {
	PreviousSQL   string
	FailureReason string
}

// Result is the generator's output for one call.
type Result struct {
	SQL        string
	Confidence int
	TokensUsed int
}

// Generator produces SQL candidates via a chat-completion model, guarded by
// a circuit breaker. It makes exactly one physical LLM call per Generate
// call; the query orchestrator's own bounded retry loop is the single
// source of retry truth for a GENERATE failure (spec §4.6), so layering a
// second retry here would desynchronize the breaker's failure count from
// the orchestrator's call-by-call accounting and multiply load against
// llm_limit on every retried request.
type Generator struct {
	client    *llm.Client
	breaker   *resilience.CircuitBreaker
	limiter   *ratelimit.Limiter
	selector  *schema.RelevanceSelector
	metrics   *metrics.LLMMetrics
	logger    *slog.Logger
	maxTokens int
}

// New builds a Generator. limiter and selector may be shared with other
// components (the result validator shares limiter's LLM scope; the schema
// registry owns selector).
func New(client *llm.Client, breaker *resilience.CircuitBreaker, limiter *ratelimit.Limiter, selector *schema.RelevanceSelector, m *metrics.LLMMetrics, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		client:    client,
		breaker:   breaker,
		limiter:   limiter,
		selector:  selector,
		metrics:   m,
		logger:    logger,
		maxTokens: 800,
	}
}

// Generate produces one SQL candidate for question against summary's
// relevant table subset, optionally steered by prior failed attempts.
func (g *Generator) Generate(ctx context.Context, question string, summary *schema.Summary, history []Attempt) (*Result, error) {
	release, err := g.limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire llm slot: %w", err)
	}
	defer release()

	tables := g.selector.Select(summary, question)
	prompt := buildPrompt(question, summary.Render(tables), history)

	start := time.Now()
	var completion *llm.CompletionResult

	err = g.breaker.Call(ctx, func(callCtx context.Context) error {
		result, callErr := g.client.Complete(callCtx, prompt, g.maxTokens)
		if callErr != nil {
			return callErr
		}
		completion = result
		return nil
	})

	duration := time.Since(start)
	status := "success"
	defer func() {
		if g.metrics != nil {
			tokens := 0
			if completion != nil {
				tokens = completion.TotalTokens
			}
			g.metrics.ObserveCall(purpose, status, tokens, duration)
		}
	}()

	if err != nil {
		status = classifyGenerationError(err)
		if errors.Is(err, resilience.ErrCircuitBreakerOpen) || status == "timeout" {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: %v", ErrLLMTimeout, err)
			}
			return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrLLMUnavailable, err)
	}

	parsed, err := parseCompletion(completion.Content)
	if err != nil {
		status = "malformed"
		return nil, fmt.Errorf("%w: %v", ErrLLMMalformed, err)
	}
	parsed.TokensUsed = completion.TotalTokens
	return parsed, nil
}

func classifyGenerationError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "error"
}

func buildPrompt(question, schemaFingerprint string, history []Attempt) []llm.Message {
	var sys strings.Builder
	sys.WriteString("You translate natural-language questions into a single read-only PostgreSQL statement.\n")
	sys.WriteString("Rules:\n")
	sys.WriteString("- Only SELECT, WITH ... SELECT, or UNION/INTERSECT/EXCEPT of selects are allowed.\n")
	sys.WriteString("- Never write INSERT, UPDATE, DELETE, or any DDL statement.\n")
	sys.WriteString("- Use only the tables and columns listed below; qualify identifiers with their schema.\n")
	sys.WriteString("- Prefer explicit JOINs following the listed foreign keys over implicit cross joins.\n")
	sys.WriteString("- Respond with a single JSON object: {\"sql\": \"...\", \"confidence\": 0-100}. No other text.\n\n")
	sys.WriteString("Schema:\n")
	sys.WriteString(schemaFingerprint)

	messages := []llm.Message{{Role: "system", Content: sys.String()}}

	for _, a := range history {
		messages = append(messages,
			llm.Message{Role: "assistant", Content: a.PreviousSQL},
			llm.Message{Role: "user", Content: fmt.Sprintf("That statement failed: %s. Produce a corrected JSON response.", a.FailureReason)},
		)
	}

	messages = append(messages, llm.Message{Role: "user", Content: question})
	return messages
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type completionEnvelope struct {
	SQL        string `json:"sql"`
	Confidence int    `json:"confidence"`
}

// parseCompletion strips any markdown code fence around the model's
// response, then decodes the {sql, confidence} envelope the prompt
// instructs it to emit.
func parseCompletion(content string) (*Result, error) {
	trimmed := strings.TrimSpace(content)
	if m := codeFence.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}

	var env completionEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("decode completion envelope: %w", err)
	}
	if strings.TrimSpace(env.SQL) == "" {
		return nil, errors.New("completion envelope had an empty sql field")
	}
	if env.Confidence < 0 || env.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d out of range 0-100", env.Confidence)
	}

	return &Result{SQL: env.SQL, Confidence: env.Confidence}, nil
}
