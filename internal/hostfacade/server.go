// Package hostfacade implements the host tool surface: a single `query`
// operation dispatched over a newline-delimited JSON loop on stdin/stdout.
// Framing and handshake for the tool-call protocol itself are out of
// scope; this package only decodes one request object per line, validates
// it, and writes back one response object per line.
package hostfacade

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"github.com/vitaliisemenov/pgquery-mcp/internal/orchestrator"
)

// maxLineSize bounds a single request line, guarding against an
// unbounded-length line exhausting memory before json.Unmarshal ever runs.
const maxLineSize = 1 << 20 // 1 MiB

// QueryExecutor is the single operation the façade dispatches to. It is
// satisfied by *orchestrator.Orchestrator; the interface exists so tests
// can exercise the loop without constructing one.
type QueryExecutor interface {
	ExecuteQuery(ctx context.Context, req orchestrator.Request) *orchestrator.Response
}

// Server reads query requests from an input stream and writes responses to
// an output stream, one JSON object per line each way.
type Server struct {
	executor QueryExecutor
	validate *validator.Validate
	logger   *slog.Logger
	ready    atomic.Bool
}

// New builds a Server around executor. The server starts not ready; call
// SetReady(true) once startup (pool connect, plus the schema preload when
// eager loading is configured) has completed so
// requests arriving before then get SERVER_NOT_INITIALIZED instead of
// racing partially-initialized dependencies.
func New(executor QueryExecutor, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		executor: executor,
		validate: validator.New(),
		logger:   logger,
	}
}

// SetReady flips whether the server accepts requests.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Ready reports whether the server currently accepts requests.
func (s *Server) Ready() bool {
	return s.ready.Load()
}

// Serve reads one JSON request per line from r until r is exhausted or ctx
// is canceled, writing one JSON response per line to w. It returns nil on a
// clean EOF, or the first write/scan error encountered — a malformed or
// invalid request line never causes Serve to return early, it only yields
// an error Response on that line.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	enc := json.NewEncoder(w)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		resp := s.handleLine(ctx, line)
		if err := enc.Encode(resp); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return nil
}

func (s *Server) handleLine(ctx context.Context, line []byte) *orchestrator.Response {
	if !s.ready.Load() {
		return errorResponse(orchestrator.CodeServerNotInitialized, "server has not finished initializing")
	}

	var req orchestrator.Request
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.logger.Warn("rejecting malformed request line", "error", err)
		return errorResponse(orchestrator.CodeInvalidRequest, "request line is not a valid query request: "+err.Error())
	}

	if err := s.validate.Struct(req); err != nil {
		var invalid *validator.InvalidValidationError
		if errors.As(err, &invalid) {
			return errorResponse(orchestrator.CodeInvalidRequest, "request could not be validated: "+err.Error())
		}
		s.logger.Warn("rejecting invalid request", "error", err)
		return errorResponse(orchestrator.CodeInvalidRequest, "request failed validation: "+err.Error())
	}

	return s.executor.ExecuteQuery(ctx, req)
}

func errorResponse(code, message string) *orchestrator.Response {
	return &orchestrator.Response{
		Success: false,
		Error:   &orchestrator.ResponseError{Code: code, Message: message},
	}
}
