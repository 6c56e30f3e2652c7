// Package resultvalidator judges whether a set of returned rows plausibly
// answers the natural-language question that produced them, using the same
// LLM backend, circuit breaker, and rate limiter as the SQL generator.
package resultvalidator

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
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// Sentinel errors mirroring internal/sqlgen's failure taxonomy, since both
// packages front the same LLM dependency.
var (
	ErrLLMUnavailable = errors.New("llm unavailable")
	ErrLLMMalformed   = errors.New("llm returned a malformed response")
)

const purpose = "result_scoring"

// Sample is the bounded row set shown to the model; callers are responsible
// for trimming to validation.sample_rows before calling Score.
type Sample struct {
	Columns []string
	Rows    [][]any
}

// Score is the validator's judgment of one result set.
type Score struct {
	Confidence int
	Rationale  string
	TokensUsed int
}

// Validator scores query results against the question that produced them.
// It makes exactly one physical LLM call per Score call, guarded only by
// the shared circuit breaker — see internal/sqlgen.Generator's doc comment
// for why a second retry layer here would desynchronize the breaker and
// multiply load against llm_limit.
type Validator struct {
	client    *llm.Client
	breaker   *resilience.CircuitBreaker
	limiter   *ratelimit.Limiter
	metrics   *metrics.LLMMetrics
	logger    *slog.Logger
	maxTokens int
}

// New builds a Validator. breaker and limiter are typically the same
// instances the SQL generator uses, since both share the LLM dependency's
// failure budget.
func New(client *llm.Client, breaker *resilience.CircuitBreaker, limiter *ratelimit.Limiter, m *metrics.LLMMetrics, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		client:    client,
		breaker:   breaker,
		limiter:   limiter,
		metrics:   m,
		logger:    logger,
		maxTokens: 300,
	}
}

// Score asks the model whether sample plausibly answers question, having
// been produced by sql.
func (v *Validator) Score(ctx context.Context, question, sql string, sample Sample) (*Score, error) {
	release, err := v.limiter.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire llm slot: %w", err)
	}
	defer release()

	prompt := buildPrompt(question, sql, sample)

	start := time.Now()
	var completion *llm.CompletionResult

	err = v.breaker.Call(ctx, func(callCtx context.Context) error {
		result, callErr := v.client.Complete(callCtx, prompt, v.maxTokens)
		if callErr != nil {
			return callErr
		}
		completion = result
		return nil
	})

	duration := time.Since(start)
	status := "success"
	defer func() {
		if v.metrics != nil {
			tokens := 0
			if completion != nil {
				tokens = completion.TotalTokens
			}
			v.metrics.ObserveCall(purpose, status, tokens, duration)
		}
	}()

	if err != nil {
		status = "error"
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

func buildPrompt(question, sql string, sample Sample) []llm.Message {
	rows := make([]map[string]any, 0, len(sample.Rows))
	for _, r := range sample.Rows {
		row := make(map[string]any, len(sample.Columns))
		for i, col := range sample.Columns {
			if i < len(r) {
				row[col] = r[i]
			}
		}
		rows = append(rows, row)
	}
	rowsJSON, _ := json.Marshal(rows)

	var sys strings.Builder
	sys.WriteString("You judge whether a SQL query's result rows plausibly answer a user's question.\n")
	sys.WriteString("Respond with a single JSON object: {\"confidence\": 0-100, \"rationale\": \"...\"}. No other text.\n\n")
	sys.WriteString("Question: ")
	sys.WriteString(question)
	sys.WriteString("\nSQL: ")
	sys.WriteString(sql)
	sys.WriteString("\nSample rows: ")
	sys.Write(rowsJSON)

	return []llm.Message{{Role: "system", Content: sys.String()}}
}

var codeFence = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")

type scoreEnvelope struct {
	Confidence int    `json:"confidence"`
	Rationale  string `json:"rationale"`
}

func parseCompletion(content string) (*Score, error) {
	trimmed := strings.TrimSpace(content)
	if m := codeFence.FindStringSubmatch(trimmed); m != nil {
		trimmed = strings.TrimSpace(m[1])
	}

	var env scoreEnvelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		return nil, fmt.Errorf("decode score envelope: %w", err)
	}
	if env.Confidence < 0 || env.Confidence > 100 {
		return nil, fmt.Errorf("confidence %d out of range 0-100", env.Confidence)
	}

	return &Score{Confidence: env.Confidence, Rationale: env.Rationale}, nil
}
