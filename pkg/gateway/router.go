package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/harun/dbperms-mcp/internal/metrics"
	"github.com/harun/dbperms-mcp/internal/tracing"
	"github.com/harun/dbperms-mcp/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Router maps JSON-RPC methods to handlers. The method table is built once
// by NewRouter and never changes afterwards.
type Router struct {
	dispatcher   *toolexecutor.Dispatcher
	info         ServerInfo
	instructions string
	metrics      *metrics.Metrics
	logger       zerolog.Logger
	methods      map[string]MethodHandler
}

// RouterConfig holds router configuration
type RouterConfig struct {
	Dispatcher   *toolexecutor.Dispatcher
	ServerInfo   ServerInfo
	Instructions string
	Metrics      *metrics.Metrics
	Logger       zerolog.Logger
}

// NewRouter creates a router serving the MCP methods over cfg.Dispatcher
func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if cfg.ServerInfo.Name == "" {
		cfg.ServerInfo.Name = "dbperms-mcp"
	}

	r := &Router{
		dispatcher:   cfg.Dispatcher,
		info:         cfg.ServerInfo,
		instructions: cfg.Instructions,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
	r.methods = map[string]MethodHandler{
		"initialize":                r.handleInitialize,
		"notifications/initialized": r.handleInitialized,
		"ping":                      r.handlePing,
		"tools/list":                r.handleToolsList,
		"tools/call":                r.handleToolsCall,
	}

	return r, nil
}

// Methods returns the supported method names, sorted
func (r *Router) Methods() []string {
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handle processes one raw JSON-RPC message received over transport and
// returns the response to send back, or nil for notifications.
func (r *Router) Handle(ctx context.Context, transport string, data []byte) *RPCResponse {
	data = bytes.TrimSpace(data)

	if !json.Valid(data) {
		return errorResponse(nil, ParseError, "Parse error")
	}
	if data[0] == '[' {
		return errorResponse(nil, InvalidRequest, "Invalid request: batch requests are not supported")
	}

	req, rpcErr := parseRequest(data)
	if rpcErr != nil {
		return errorResponse(req.idOrNil(), rpcErr.Code, rpcErr.Message)
	}

	r.metrics.RecordRPCRequest(transport, req.Method)

	ctx = tracing.NewRequestContext(ctx)
	if !req.IsNotification() {
		ctx = tracing.WithRequestID(ctx, string(req.ID))
	}
	logger := tracing.LoggerFromContext(ctx, r.logger)
	logger.Debug().Str("transport", transport).Str("method", req.Method).Msg("RPC request received")

	handler, ok := r.methods[req.Method]
	if req.IsNotification() {
		if ok {
			if _, err := handler(ctx, req.Params); err != nil {
				logger.Warn().Err(err).Str("method", req.Method).Msg("Notification handler failed")
			}
		}
		return nil
	}
	if !ok {
		return errorResponse(req.ID, MethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}

	result, err := handler(ctx, req.Params)
	if err != nil {
		if e, ok := err.(*RPCError); ok {
			return errorResponse(req.ID, e.Code, e.Message)
		}
		logger.Error().Err(err).Str("method", req.Method).Msg("RPC handler failed")
		return errorResponse(req.ID, InternalError, err.Error())
	}

	return &RPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      req.ID,
		Result:  result,
	}
}

// parseRequest decodes and validates a single request object. The returned
// request is never nil so that callers can echo a parsed id.
func parseRequest(data []byte) (*RPCRequest, *RPCError) {
	var req RPCRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return &req, &RPCError{Code: InvalidRequest, Message: "Invalid request: " + err.Error()}
	}
	if !validID(req.ID) {
		req.ID = nil
		return &req, &RPCError{Code: InvalidRequest, Message: "Invalid request: id must be a string or number"}
	}
	if req.JSONRPC != JSONRPCVersion {
		return &req, &RPCError{Code: InvalidRequest, Message: "Invalid request: jsonrpc must be \"2.0\""}
	}
	if req.Method == "" {
		return &req, &RPCError{Code: InvalidRequest, Message: "Invalid request: missing method field"}
	}
	return &req, nil
}

func validID(id json.RawMessage) bool {
	if len(id) == 0 {
		return true
	}
	switch id[0] {
	case '"', 'n', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return true
	}
	return false
}

func (r *RPCRequest) idOrNil() json.RawMessage {
	if r == nil {
		return nil
	}
	return r.ID
}

func errorResponse(id json.RawMessage, code int, message string) *RPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return &RPCResponse{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
	}
}

func invalidParams(format string, args ...interface{}) *RPCError {
	return &RPCError{Code: InvalidParams, Message: fmt.Sprintf(format, args...)}
}
