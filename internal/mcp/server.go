// internal/mcp/server.go

// Package mcp exposes the operator over line-delimited JSON-RPC 2.0 on
// stdin/stdout. Logging must never touch stdout while this runs; that stream
// belongs to the protocol.
package mcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/halcyondata/browser-operator/api/schemas"
	"github.com/halcyondata/browser-operator/internal/audit"
	"github.com/halcyondata/browser-operator/internal/jobs"
	"github.com/halcyondata/browser-operator/internal/notes"
	"github.com/halcyondata/browser-operator/internal/operator"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32000
)

type request struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id"`
	Method  string              `json:"method"`
	Params  jsoniter.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string              `json:"jsonrpc"`
	ID      jsoniter.RawMessage `json:"id,omitempty"`
	Result  interface{}         `json:"result,omitempty"`
	Error   *rpcError           `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type handler func(ctx context.Context, params jsoniter.RawMessage) (interface{}, error)

// Server dispatches JSON-RPC requests to the job manager, the note store,
// and the read-only session helpers.
type Server struct {
	jobs     *jobs.Manager
	operator *operator.Operator
	notes    *notes.Store
	logger   *zap.Logger
	methods  map[string]handler
}

// NewServer builds the dispatch table.
func NewServer(j *jobs.Manager, op *operator.Operator, n *notes.Store, logger *zap.Logger) *Server {
	s := &Server{
		jobs:     j,
		operator: op,
		notes:    n,
		logger:   logger.Named("rpc_server"),
	}
	s.methods = map[string]handler{
		"mcp__browser-operator__create-browser":   s.handleCreateBrowser,
		"mcp__browser-operator__navigate-browser": s.handleNavigateBrowser,
		"mcp__browser-operator__operate-browser":  s.handleOperateBrowser,
		"mcp__browser-operator__close-browser":    s.handleCloseBrowser,
		"mcp__browser-operator__get-job-status":   s.handleGetJobStatus,
		"mcp__browser-operator__list-jobs":        s.handleListJobs,
		"mcp__browser-operator__cancel-job":       s.handleCancelJob,
		"mcp__browser-operator__add-note":         s.handleAddNote,
		"mcp__browser-operator__list-notes":       s.handleListNotes,

		"mcp__browser-tools__takeScreenshot":        s.handleTakeScreenshot,
		"mcp__browser-tools__runAccessibilityAudit": s.auditHandler(audit.Accessibility),
		"mcp__browser-tools__runPerformanceAudit":   s.auditHandler(audit.Performance),
		"mcp__browser-tools__runSEOAudit":           s.auditHandler(audit.SEO),
	}
	return s
}

// Serve reads one request per line from r and writes one response per line to
// w until EOF or context cancellation.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	out := bufio.NewWriter(w)

	// Read on a goroutine so cancellation is observed even while the
	// transport is idle. The reader may stay blocked in Read after
	// cancellation; process shutdown reaps it.
	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-readErr:
					if err != nil && !errors.Is(err, io.EOF) {
						return fmt.Errorf("transport read failed: %w", err)
					}
				default:
				}
				return nil
			}
			if len(line) == 0 {
				continue
			}
			resp := s.handleLine(ctx, line)
			if err := s.write(out, resp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
		}
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) response {
	var req request
	if err := jsonAPI.Unmarshal(line, &req); err != nil {
		return errorResponse(nil, codeParseError, "parse error: "+err.Error())
	}
	return s.Handle(ctx, req)
}

// Handle dispatches a single decoded request.
func (s *Server) Handle(ctx context.Context, req request) response {
	if req.JSONRPC != "2.0" {
		return errorResponse(req.ID, codeInvalidRequest, `jsonrpc must be "2.0"`)
	}
	if req.Method == "" {
		return errorResponse(req.ID, codeInvalidRequest, "missing method")
	}
	h, ok := s.methods[req.Method]
	if !ok {
		return errorResponse(req.ID, codeMethodNotFound, "method not found: "+req.Method)
	}

	s.logger.Info("Request received.", zap.String("method", req.Method))
	result, err := h(ctx, req.Params)
	if err != nil {
		var oe *schemas.OperationError
		if errors.As(err, &oe) {
			return response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{
				Code:    codeInternalError,
				Message: oe.Message,
				Data:    map[string]interface{}{"code": oe.Code},
			}}
		}
		var pe *paramError
		if errors.As(err, &pe) {
			return errorResponse(req.ID, codeInvalidParams, pe.Error())
		}
		return errorResponse(req.ID, codeInternalError, err.Error())
	}
	return response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) write(out *bufio.Writer, resp response) error {
	data, err := jsonAPI.Marshal(resp)
	if err != nil {
		data, _ = jsonAPI.Marshal(errorResponse(resp.ID, codeInternalError, "failed to encode response"))
	}
	if _, err := out.Write(data); err != nil {
		return err
	}
	if err := out.WriteByte('\n'); err != nil {
		return err
	}
	return out.Flush()
}

func errorResponse(id jsoniter.RawMessage, code int, message string) response {
	return response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: message}}
}

// paramError distinguishes bad params from execution failures.
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func badParams(format string, args ...interface{}) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

func decodeParams(raw jsoniter.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return badParams("params are required")
	}
	if err := jsonAPI.Unmarshal(raw, out); err != nil {
		return badParams("invalid params: %v", err)
	}
	return nil
}
