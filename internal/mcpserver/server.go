// Package mcpserver exposes the gateway tools over the Model Context
// Protocol using mcp-go's streamable HTTP transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/pipeline"
	"github.com/grcgate/grcgate/internal/reqcontext"
)

type contextKey int

const sessionTokenKey contextKey = iota

// WithSessionToken stores the caller's platform session token in ctx
func WithSessionToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, sessionTokenKey, token)
}

func sessionToken(ctx context.Context) string {
	token, _ := ctx.Value(sessionTokenKey).(string)
	return token
}

// Server is the MCP front end of the pipeline
type Server struct {
	mcp      *server.MCPServer
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// New registers every pipeline tool on a new MCP server
func New(p *pipeline.Pipeline, version string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}

	hooks := &server.Hooks{}
	hooks.AddOnRegisterSession(func(_ context.Context, sess server.ClientSession) {
		var clientName, clientVersion string
		if withInfo, ok := sess.(server.SessionWithClientInfo); ok {
			info := withInfo.GetClientInfo()
			clientName, clientVersion = info.Name, info.Version
		}
		logger.Info("MCP session registered",
			zap.String("session_id", sess.SessionID()),
			zap.String("client_name", clientName),
			zap.String("client_version", clientVersion))
	})

	s := &Server{
		mcp: server.NewMCPServer("grcgate", version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
			server.WithHooks(hooks),
		),
		pipeline: p,
		logger:   logger,
	}
	for _, spec := range p.Tools() {
		s.mcp.AddTool(toolFor(spec), s.handler(spec.Name))
	}
	return s
}

// MCPServer returns the underlying mcp-go server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

// Handler serves streamable HTTP. The session token is read from the
// Authorization header of each HTTP request.
func (s *Server) Handler() http.Handler {
	return server.NewStreamableHTTPServer(s.mcp,
		server.WithHTTPContextFunc(contextFromRequest),
	)
}

func contextFromRequest(ctx context.Context, r *http.Request) context.Context {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		ctx = WithSessionToken(ctx, strings.TrimSpace(h[7:]))
	}
	if reqcontext.ClientIP(ctx) == "" {
		ctx = reqcontext.WithClientIP(ctx, r.RemoteAddr)
	}
	return reqcontext.WithSource(ctx, reqcontext.SourceMCP)
}

func toolFor(spec pipeline.ToolSpec) mcp.Tool {
	opts := []mcp.ToolOption{mcp.WithDescription(spec.Description)}
	for _, p := range spec.Params {
		propOpts := []mcp.PropertyOption{mcp.Description(p.Description)}
		if p.Required {
			propOpts = append(propOpts, mcp.Required())
		}
		switch p.Type {
		case "number":
			opts = append(opts, mcp.WithNumber(p.Name, propOpts...))
		default:
			opts = append(opts, mcp.WithString(p.Name, propOpts...))
		}
	}
	return mcp.NewTool(spec.Name, opts...)
}

func (s *Server) handler(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// tools/call has no client timestamp, so the call is stamped on receipt
		req := pipeline.ToolRequest{
			ToolName:         name,
			SessionToken:     sessionToken(ctx),
			Parameters:       request.GetArguments(),
			RequestTimestamp: time.Now().UTC(),
			ClientIP:         reqcontext.ClientIP(ctx),
		}
		if sess := server.ClientSessionFromContext(ctx); sess != nil {
			if withInfo, ok := sess.(server.SessionWithClientInfo); ok {
				req.Context.AgentID = withInfo.GetClientInfo().Name
			}
		}

		resp := s.pipeline.ExecuteTool(ctx, req)
		body, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("Failed to encode tool response", zap.String("tool", name), zap.Error(err))
			return mcp.NewToolResultError("internal error"), nil
		}
		if !resp.Success {
			return mcp.NewToolResultError(string(body)), nil
		}
		return mcp.NewToolResultText(string(body)), nil
	}
}
