// Package orchestrator sequences the query pipeline — generate, validate,
// execute, score — and owns the bounded retry policy described in spec
// §4.6. It is the sole component that turns a typed failure from a lower
// layer into a populated Response; nothing below it ever returns an error
// to the host tool façade directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitaliisemenov/pgquery-mcp/internal/dbregistry"
	"github.com/vitaliisemenov/pgquery-mcp/internal/executor"
	"github.com/vitaliisemenov/pgquery-mcp/internal/ratelimit"
	"github.com/vitaliisemenov/pgquery-mcp/internal/resultvalidator"
	"github.com/vitaliisemenov/pgquery-mcp/internal/schema"
	"github.com/vitaliisemenov/pgquery-mcp/internal/sqlgen"
	"github.com/vitaliisemenov/pgquery-mcp/internal/sqlvalidate"
	"github.com/vitaliisemenov/pgquery-mcp/internal/tracing"
	"github.com/vitaliisemenov/pgquery-mcp/pkg/metrics"
)

// Policy is the subset of ResilienceConfig/ValidationConfig the
// orchestrator needs to run its retry loop.
type Policy struct {
	MaxRetries         int
	RetryOnSecurity    bool
	RequestBudget      time.Duration
	MinConfidenceScore int
	SampleRows         int
}

// Orchestrator wires every pipeline component and enforces Policy across a
// single request's state machine.
type Orchestrator struct {
	databases       *dbregistry.Registry
	schemas         *schema.Registry
	generator       *sqlgen.Generator
	validator       *sqlvalidate.Validator
	executor        *executor.Executor
	resultValidator *resultvalidator.Validator
	queryLimiter    *ratelimit.Limiter
	policy          Policy
	metrics         *metrics.QueryMetrics
	logger          *slog.Logger
}

// New builds an Orchestrator. resultValidator may be nil to disable result
// scoring entirely (RESULT requests then skip straight from EXECUTE to
// RETURN, reporting the generator's own confidence).
func New(
	databases *dbregistry.Registry,
	schemas *schema.Registry,
	generator *sqlgen.Generator,
	validator *sqlvalidate.Validator,
	exec *executor.Executor,
	resultValidator *resultvalidator.Validator,
	queryLimiter *ratelimit.Limiter,
	policy Policy,
	m *metrics.QueryMetrics,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.SampleRows <= 0 {
		policy.SampleRows = 5
	}
	return &Orchestrator{
		databases:       databases,
		schemas:         schemas,
		generator:       generator,
		validator:       validator,
		executor:        exec,
		resultValidator: resultValidator,
		queryLimiter:    queryLimiter,
		policy:          policy,
		metrics:         m,
		logger:          logger,
	}
}

// ExecuteQuery runs the ADMIT→SELECT_DB→LOAD_SCHEMA→GENERATE→VALIDATE→
// (EXECUTE→SCORE)?→RETURN state machine for one request. It never returns
// an error: every failure mode is reported as Response.Error.
func (o *Orchestrator) ExecuteQuery(ctx context.Context, req Request) *Response {
	start := time.Now()
	ctx, _, logger := tracing.RequestContext(ctx, o.logger)

	if req.ReturnType == "" {
		req.ReturnType = ReturnResult
	}

	if strings.TrimSpace(req.Question) == "" {
		return o.finish(start, req.Database, "", nil, o.errResp(CodeInvalidParameter, "question must not be empty"), 0, 0)
	}
	if req.ReturnType != ReturnSQL && req.ReturnType != ReturnResult {
		return o.finish(start, req.Database, "", nil, o.errResp(CodeInvalidParameter, "return_type must be \"sql\" or \"result\""), 0, 0)
	}

	budgetCtx := ctx
	if o.policy.RequestBudget > 0 {
		var cancel context.CancelFunc
		budgetCtx, cancel = context.WithTimeout(ctx, o.policy.RequestBudget)
		defer cancel()
	}

	// ADMIT
	release, err := o.queryLimiter.TryAcquire()
	if err != nil {
		return o.finish(start, req.Database, "", nil, o.errResp(CodeRateLimited, "query rate limit exceeded"), 0, 0)
	}
	defer release()

	// SELECT_DB
	pool, database, dbErr := o.selectDatabase(req.Database)
	if dbErr != nil {
		return o.finish(start, database, "", nil, dbErr, 0, 0)
	}

	// LOAD_SCHEMA
	cache := o.schemas.Get(database)
	if cache == nil {
		return o.finish(start, database, "", nil, o.errResp(CodeNoSuchDatabase, fmt.Sprintf("no schema cache for database %q", database)), 0, 0)
	}
	summary, schemaErr := cache.GetOrLoad(budgetCtx)
	if schemaErr != nil {
		return o.finish(start, database, "", nil, o.errResp(CodeDBError, fmt.Sprintf("schema load failed: %v", schemaErr)), 0, 0)
	}

	var (
		history     []sqlgen.Attempt
		lastSQL     string
		lastErr     *ResponseError
		totalTokens int
		finalConf   int
	)

	for attempt := 0; attempt <= o.policy.MaxRetries; attempt++ {
		if budgetCtx.Err() != nil {
			if lastErr == nil {
				lastErr = o.errResp(CodeTimeout, "request budget exceeded")
			}
			break
		}

		// GENERATE
		genResult, err := o.generator.Generate(budgetCtx, req.Question, summary, history)
		if err != nil {
			code := classifyGenerateError(err)
			lastErr = &ResponseError{Code: code, Message: err.Error()}
			logger.Warn("sql generation failed", "database", database, "attempt", attempt, "code", code, "error", err)
			if attempt < o.policy.MaxRetries {
				history = append(history, sqlgen.Attempt{PreviousSQL: "", FailureReason: err.Error()})
				continue
			}
			break
		}
		totalTokens += genResult.TokensUsed
		finalConf = genResult.Confidence
		lastSQL = genResult.SQL

		// VALIDATE
		if verr := o.validator.Validate(genResult.SQL); verr != nil {
			var secViol *sqlvalidate.SecurityViolation
			if errors.As(verr, &secViol) {
				lastErr = &ResponseError{Code: CodeSecurityViolation, Message: verr.Error(), Details: secViol.Reason}
			} else {
				lastErr = &ResponseError{Code: CodeSQLParse, Message: verr.Error()}
			}
			logger.Warn("sql validation rejected candidate", "database", database, "attempt", attempt, "error", verr)
			if o.policy.RetryOnSecurity && attempt < o.policy.MaxRetries {
				history = append(history, sqlgen.Attempt{PreviousSQL: genResult.SQL, FailureReason: verr.Error()})
				continue
			}
			break
		}

		if req.ReturnType == ReturnSQL {
			return o.finish(start, database, lastSQL, nil, nil, finalConf, totalTokens)
		}

		// EXECUTE
		execResult, eerr := o.executor.Execute(budgetCtx, genResult.SQL, pool)
		if eerr != nil {
			code, retryable := classifyExecuteError(eerr)
			lastErr = &ResponseError{Code: code, Message: eerr.Error()}
			logger.Warn("sql execution failed", "database", database, "attempt", attempt, "code", code, "error", eerr)
			if retryable && attempt < o.policy.MaxRetries {
				history = append(history, sqlgen.Attempt{PreviousSQL: genResult.SQL, FailureReason: eerr.Error()})
				continue
			}
			break
		}

		data := &DataPayload{
			Columns:   execResult.Columns,
			Rows:      rowsToMaps(execResult.Columns, execResult.Rows),
			RowCount:  execResult.RowCount,
			Truncated: execResult.Truncated,
		}

		if o.resultValidator == nil {
			return o.finish(start, database, lastSQL, data, nil, finalConf, totalTokens)
		}

		// SCORE
		sample := resultvalidator.Sample{Columns: execResult.Columns, Rows: limitRows(execResult.Rows, o.policy.SampleRows)}
		score, serr := o.resultValidator.Score(budgetCtx, req.Question, genResult.SQL, sample)
		if serr != nil {
			logger.Warn("result scoring failed, returning unscored result", "database", database, "attempt", attempt, "error", serr)
			return o.finish(start, database, lastSQL, data, nil, finalConf, totalTokens)
		}
		totalTokens += score.TokensUsed
		finalConf = score.Confidence

		if score.Confidence < o.policy.MinConfidenceScore && attempt < o.policy.MaxRetries {
			logger.Info("low-confidence result, retrying generation", "database", database, "attempt", attempt, "confidence", score.Confidence)
			history = append(history, sqlgen.Attempt{
				PreviousSQL:   genResult.SQL,
				FailureReason: fmt.Sprintf("result did not plausibly answer the question (confidence %d): %s", score.Confidence, score.Rationale),
			})
			continue
		}

		// Retries exhausted (or confidence is acceptable): return the result
		// either way, with the score attached so the caller can judge for
		// itself — low confidence alone is never a hard failure.
		return o.finish(start, database, lastSQL, data, nil, finalConf, totalTokens)
	}

	if lastErr == nil {
		lastErr = o.errResp(CodeDBError, "query failed for an unknown reason")
	}
	return o.finish(start, database, lastSQL, nil, lastErr, finalConf, totalTokens)
}

func (o *Orchestrator) selectDatabase(requested string) (pool *pgxpool.Pool, database string, respErr *ResponseError) {
	p, err := o.databases.Get(requested)
	if err != nil {
		switch {
		case errors.Is(err, dbregistry.ErrUnknownDatabase):
			return nil, requested, o.errResp(CodeNoSuchDatabase, err.Error())
		case errors.Is(err, dbregistry.ErrNoDefaultDatabase):
			return nil, requested, o.errResp(CodeDatabaseRequired, err.Error())
		default:
			return nil, requested, o.errResp(CodeDBError, err.Error())
		}
	}
	return p.Pool(), p.Name(), nil
}

func (o *Orchestrator) errResp(code, message string) *ResponseError {
	return &ResponseError{Code: code, Message: message}
}

// finish records metrics and assembles the terminal Response.
func (o *Orchestrator) finish(start time.Time, database, generatedSQL string, data *DataPayload, respErr *ResponseError, confidence, tokensUsed int) *Response {
	duration := time.Since(start)
	success := respErr == nil
	status := "success"
	outcome := "returned_rows"
	if !success {
		status = "failure"
		outcome = strings.ToLower(respErr.Code)
	} else if data == nil {
		outcome = "sql_only"
	}
	if o.metrics != nil {
		o.metrics.ObserveRequest(status, database, outcome, duration)
	}
	return &Response{
		Success:      success,
		GeneratedSQL: generatedSQL,
		Data:         data,
		Error:        respErr,
		Confidence:   confidence,
		TokensUsed:   tokensUsed,
	}
}

func classifyGenerateError(err error) string {
	switch {
	case errors.Is(err, sqlgen.ErrLLMTimeout):
		return CodeLLMTimeout
	case errors.Is(err, sqlgen.ErrLLMMalformed):
		return CodeLLMMalformed
	default:
		return CodeUpstreamUnavailable
	}
}

// classifyExecuteError maps an executor failure to a wire error code and
// reports whether the orchestrator should retry it. Canceled is never
// retried (the caller gave up); an oversized row request never reaches
// here as a failure at all — the executor truncates it to a successful,
// capped result instead of rejecting it.
func classifyExecuteError(err error) (code string, retryable bool) {
	switch {
	case errors.Is(err, executor.ErrCanceled):
		return CodeCanceled, false
	case errors.Is(err, executor.ErrTimeout):
		return CodeTimeout, true
	default:
		return CodeDBError, true
	}
}

func rowsToMaps(columns []string, rows [][]any) []map[string]any {
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if i < len(r) {
				row[col] = r[i]
			}
		}
		out = append(out, row)
	}
	return out
}

func limitRows(rows [][]any, n int) [][]any {
	if n <= 0 || len(rows) <= n {
		return rows
	}
	return rows[:n]
}
