package mcprt

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kestrelmcp/kestrel/internal/kit"
)

// metaToolSchemas carries the fixed, compiled-in input schema for every
// meta-tool: the one place the server still has source-defined tool
// shapes, since they bootstrap everything else.
var metaToolSchemas = map[string]struct {
	description string
	schema      map[string]any
}{
	"create_new_sql_tool": {"Create a new SQL-backed tool from a template query", objSchema(map[string]string{
		"tool_name": "name of the new tool", "description": "tool description", "sql_query": "SELECT template body",
	}, "tool_name", "description", "sql_query")},
	"create_new_prompt": {"Register a new prompt template", objSchema(map[string]string{
		"name": "prompt name", "description": "prompt description", "template": "prompt template body",
	}, "name", "template")},
	"create_new_resource": {"Register a new static resource", objSchema(map[string]string{
		"uri": "resource URI", "name": "resource name", "body": "static resource body", "mime_type": "MIME type",
	}, "uri", "body")},
	"create_temp_tool": {"Create an in-memory, non-persisted tool for this process", objSchema(map[string]string{
		"tool_name": "name of the temp tool", "description": "tool description", "sql_query": "SELECT template body",
	}, "tool_name", "sql_query")},
	"create_temp_resource": {"Create an in-memory, non-persisted resource", objSchema(map[string]string{
		"uri": "resource URI", "body": "static resource body",
	}, "uri", "body")},
	"register_macro": {"Register a reusable SQL template macro", objSchema(map[string]string{
		"name": "macro name", "description": "macro description", "template": "macro body (must start with {% macro and end with {% endmacro %})",
	}, "name", "template")},
	"create_dashboard": {"Register a dashboard UI artifact", objSchema(map[string]string{
		"tool_name": "dashboard tool name", "description": "dashboard description", "html": "dashboard UI body",
	}, "tool_name", "html")},
	"system_update_manual": {"Update a tool's manual", objSchema(map[string]string{
		"tool_name": "target tool name", "mode": "merge or replace",
	}, "tool_name", "mode")},
	"system_inspect_tool": {"Inspect a tool's full record and manual", objSchema(map[string]string{
		"tool_name": "target tool name",
	}, "tool_name")},
	"system_verify_tool": {"Re-run a tool's manual examples and update their verified flags", objSchema(map[string]string{
		"tool_name": "target tool name",
	}, "tool_name")},
	"get_last_error": {"Return the most recent recorded failure", objSchema(map[string]string{
		"tool_name": "optional tool name filter",
	})},
	"reconnect_db": {"Reopen the data-session against a new connection string", objSchema(map[string]string{
		"dsn": "new data-session connection string",
	}, "dsn")},
	"test_db_connection": {"Check whether the data-session is reachable", objSchema(map[string]string{})},
	"execute_workflow": {"Execute a validated chain of tool calls", map[string]any{
		"type": "object",
		"properties": map[string]any{
			"steps": map[string]any{"type": "array", "description": "ordered list of {id, tool, args} steps"},
		},
		"required": []string{"steps"},
	}},
	"general_merge_tool": {"Upsert rows into a data-store table", objSchema(map[string]string{
		"table": "target table name",
	}, "table")},
	"execute_ddl_tool": {"Run a CREATE/ALTER/DROP/TRUNCATE statement against the data store", objSchema(map[string]string{
		"ddl": "the DDL statement", "confirm": `must equal "YES"`,
	}, "ddl", "confirm")},
}

func objSchema(props map[string]string, required ...string) map[string]any {
	properties := map[string]any{}
	for name, desc := range props {
		properties[name] = map[string]string{"type": "string", "description": desc}
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}

// Bridge registers every meta-tool under its fixed schema and every
// registry-sourced tool under its stored schema onto srv, both routed
// through the same Dispatcher.CallTool path.
func Bridge(srv *server.MCPServer, d *Dispatcher, persona string) {
	for name, def := range metaToolSchemas {
		schemaJSON, _ := json.Marshal(def.schema)
		registerBridgedTool(srv, d, name, def.description, schemaJSON)
	}
	for _, t := range d.ListTools(persona) {
		schemaJSON, _ := json.Marshal(t.InputSchema)
		registerBridgedTool(srv, d, t.Name, t.Description, schemaJSON)
	}
}

func registerBridgedTool(srv *server.MCPServer, d *Dispatcher, name, description string, schemaJSON []byte) {
	tool := mcp.NewToolWithRawSchema(name, description, schemaJSON)
	srv.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		persona := kit.GetPersona(ctx)
		out, err := d.CallTool(ctx, persona, name, req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", name, err)), nil
		}
		if s, ok := out.(string); ok {
			return mcp.NewToolResultText(s), nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("%s: %v", name, err)), nil
		}
		return mcp.NewToolResultText(string(b)), nil
	})
}

// BridgeResources registers every registry-sourced resource onto srv.
func BridgeResources(srv *server.MCPServer, d *Dispatcher, persona string) {
	for _, rr := range d.ListResources(persona) {
		uri := rr.URI
		res := mcp.NewResource(uri, rr.Name, mcp.WithResourceDescription(rr.Description), mcp.WithMIMEType(rr.MimeType))
		srv.AddResource(res, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
			persona := kit.GetPersona(ctx)
			body, mimeType, err := d.GetResource(ctx, persona, uri)
			if err != nil {
				return nil, err
			}
			return []mcp.ResourceContents{mcp.TextResourceContents{URI: uri, MIMEType: mimeType, Text: body}}, nil
		})
	}
}

// BridgePrompts registers every registry-sourced prompt onto srv.
func BridgePrompts(srv *server.MCPServer, d *Dispatcher, persona string) {
	for _, p := range d.ListPrompts(persona) {
		name := p.Name
		opts := []mcp.PromptOption{mcp.WithPromptDescription(p.Description)}
		for _, a := range p.ArgumentsSchema {
			argOpts := []mcp.ArgumentOption{mcp.ArgumentDescription(a.Description)}
			if a.Required {
				argOpts = append(argOpts, mcp.RequiredArgument())
			}
			opts = append(opts, mcp.WithArgument(a.Name, argOpts...))
		}
		srv.AddPrompt(mcp.NewPrompt(name, opts...), func(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
			persona := kit.GetPersona(ctx)
			arguments := make(map[string]any, len(req.Params.Arguments))
			for k, v := range req.Params.Arguments {
				arguments[k] = v
			}
			text, err := d.GetPrompt(ctx, persona, name, arguments)
			if err != nil {
				return nil, err
			}
			return mcp.NewGetPromptResult(p.Description, []mcp.PromptMessage{
				mcp.NewPromptMessage(mcp.RoleUser, mcp.NewTextContent(text)),
			}), nil
		})
	}
}
