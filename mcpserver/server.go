package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/sandbox"
)

// ToolRunFunction is the name of the script execution tool
const ToolRunFunction = "run_function"

// MCPServer represents the MCP server
type MCPServer struct {
	config      *config.Config
	logger      *zap.Logger
	sandboxExec sandbox.Executor
	mcpServer   *server.MCPServer
}

// runResult is the JSON body of a successful tool call
type runResult struct {
	ExecutionID string `json:"execution_id"`
	Output      string `json:"output"`
	Backend     string `json:"backend"`
	DurationMs  int64  `json:"duration_ms"`
}

// New creates a new MCPServer
func New(cfg *config.Config, logger *zap.Logger, sandboxExec sandbox.Executor) (*MCPServer, error) {
	s := &MCPServer{
		config:      cfg,
		logger:      logger,
		sandboxExec: sandboxExec,
	}

	// Log configuration parameters on startup
	logger.Info("configuration loaded",
		zap.String("server.transport", s.config.Server.Transport),
		zap.Int("server.http_port", s.config.Server.HTTPPort),
		zap.Int("server.rest_port", s.config.Server.RESTPort),
		zap.String("engine.backend", s.config.Engine.Backend),
		zap.Uint64("engine.max_heap_bytes", s.config.Engine.MaxHeapBytes),
		zap.Int("engine.pool_size", s.config.Engine.PoolSize),
		zap.Int("engine.default_timeout_ms", s.config.Engine.DefaultTimeoutMs),
		zap.Int("engine.max_timeout_ms", s.config.Engine.MaxTimeoutMs),
		zap.Int("fetch.timeout_ms", s.config.Fetch.TimeoutMs),
	)

	s.mcpServer = server.NewMCPServer("scriptbox", "A sandboxed JavaScript function runner")

	s.registerRunFunctionTool()

	return s, nil
}

// registerRunFunctionTool registers the run_function tool
func (s *MCPServer) registerRunFunctionTool() {
	tool := mcp.Tool{
		Name:        ToolRunFunction,
		Description: "Evaluate JavaScript source to a function returning a promise, call it with a JSON argument and return the settled value",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"code": map[string]any{
					"type":        "string",
					"description": "Source that evaluates to a function, e.g. async function(x) { return x + 1 }",
				},
				"args": map[string]any{
					"type":        "string",
					"description": "JSON payload passed as the single argument (default null)",
				},
				"timeout_ms": map[string]any{
					"type":        "integer",
					"description": "Wall-clock limit in milliseconds (optional)",
				},
			},
			Required: []string{"code"},
		},
	}

	s.mcpServer.AddTool(tool, s.handleRunFunction)
}

// handleRunFunction handles the run_function tool
func (s *MCPServer) handleRunFunction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	code, err := request.RequireString("code")
	if err != nil {
		return nil, fmt.Errorf("code parameter is required: %w", err)
	}
	args := request.GetString("args", sandbox.DefaultArgs)
	timeoutMs := request.GetInt("timeout_ms", 0)
	if timeoutMs < 0 {
		return nil, fmt.Errorf("timeout_ms must not be negative, got: %d", timeoutMs)
	}

	s.logger.Info("function run requested",
		zap.Int("code_len", len(code)),
		zap.Int("args_len", len(args)),
		zap.Int("timeout_ms", timeoutMs))

	result, err := s.sandboxExec.Execute(ctx, sandbox.ExecuteRequest{
		Source:  code,
		Args:    args,
		Timeout: time.Duration(timeoutMs) * time.Millisecond,
	})
	if err != nil {
		s.logger.Error("function run failed",
			zap.String("kind", string(sandbox.KindOf(err))),
			zap.Error(err))
		return &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{
					Type: "text",
					Text: fmt.Sprintf("Execution failed: %v", err),
				},
			},
			IsError: true,
		}, nil
	}

	s.logger.Info("function run completed",
		zap.String("execution_id", result.ID),
		zap.Duration("duration", result.Duration),
		zap.Int("output_len", len(result.Output)))

	body, err := json.Marshal(runResult{
		ExecutionID: result.ID,
		Output:      result.Output,
		Backend:     result.Backend,
		DurationMs:  result.Duration.Milliseconds(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{
				Type: "text",
				Text: string(body),
			},
		},
	}, nil
}

// ServeStdio starts the server on stdio
func (s *MCPServer) ServeStdio() error {
	s.logger.Info("starting MCP server on stdio")
	return server.ServeStdio(s.mcpServer)
}

// ServeHTTP starts the server on HTTP
func (s *MCPServer) ServeHTTP() error {
	port := s.config.Server.HTTPPort
	s.logger.Info("starting MCP server on HTTP", zap.Int("port", port))

	httpServer := server.NewStreamableHTTPServer(s.mcpServer)
	return httpServer.Start(fmt.Sprintf(":%d", port))
}

// GetMCPServer returns the underlying MCP server for fx
func (s *MCPServer) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}
