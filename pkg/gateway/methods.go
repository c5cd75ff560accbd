package gateway

import (
	"context"
	"encoding/json"
)

// SupportedProtocolVersions lists the MCP protocol revisions this server
// speaks, oldest first.
var SupportedProtocolVersions = []string{"2024-11-05", "2025-03-26", "2025-06-18"}

// LatestProtocolVersion is offered when the client asks for an unknown revision
var LatestProtocolVersion = SupportedProtocolVersions[len(SupportedProtocolVersions)-1]

func negotiateProtocolVersion(requested string) string {
	for _, v := range SupportedProtocolVersions {
		if v == requested {
			return v
		}
	}
	return LatestProtocolVersion
}

func (r *Router) handleInitialize(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p InitializeParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, invalidParams("invalid initialize params: %v", err)
		}
	}

	version := negotiateProtocolVersion(p.ProtocolVersion)
	logger := r.logger.Info().Str("protocol_version", version)
	if p.ClientInfo != nil {
		logger = logger.Str("client", p.ClientInfo.Name).Str("client_version", p.ClientInfo.Version)
	}
	logger.Msg("MCP session initialized")

	return InitializeResult{
		ProtocolVersion: version,
		Capabilities: map[string]interface{}{
			"tools": map[string]interface{}{"listChanged": false},
		},
		ServerInfo:   r.info,
		Instructions: r.instructions,
	}, nil
}

func (r *Router) handleInitialized(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return nil, nil
}

func (r *Router) handlePing(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	return struct{}{}, nil
}

func (r *Router) handleToolsList(ctx context.Context, _ json.RawMessage) (interface{}, error) {
	reg := r.dispatcher.Registry()
	defs := reg.List()

	tools := make([]Tool, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: reg.InputSchema(def.Name),
		})
	}
	return ListToolsResult{Tools: tools}, nil
}

func (r *Router) handleToolsCall(ctx context.Context, params json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, invalidParams("missing params")
	}

	var p CallToolParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, invalidParams("invalid tools/call params: %v", err)
	}
	if p.Name == "" {
		return nil, invalidParams("missing tool name")
	}
	if r.dispatcher.Registry().Get(p.Name) == nil {
		return nil, invalidParams("unknown tool: %s", p.Name)
	}
	if p.Arguments == nil {
		p.Arguments = map[string]interface{}{}
	}

	env := r.dispatcher.Dispatch(ctx, p.Name, p.Arguments)
	return CallToolResult{
		Content: []Content{{Type: "text", Text: env.Text}},
		IsError: env.IsError(),
	}, nil
}
