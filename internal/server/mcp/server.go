package mcp

import (
	"context"
	"io"
	"log/slog"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/session"
)

type Config struct {
	ServerName    string
	ServerVersion string
}

// Speech is the session surface exposed as tools
type Speech interface {
	Start()
	Stop()
	AcceptConsent()
	DeclineConsent()
	Status() session.Status
	OnNumber(cb func(int)) func()
}

// History provides recently recognized numbers
type History interface {
	Recent(ctx context.Context, kind string, limit int) ([]journal.Entry, error)
}

type Server struct {
	config    Config
	mcpServer *sdk.Server
	speech    Speech
	history   History
	log       *slog.Logger
}

// NewServer creates an MCP server over speech. history may be nil.
func NewServer(cfg Config, speech Speech, history History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		config:  cfg,
		speech:  speech,
		history: history,
		log:     logger.With(slog.String("component", "mcp")),
	}

	s.mcpServer = sdk.NewServer(&sdk.Implementation{
		Name:    cfg.ServerName,
		Version: cfg.ServerVersion,
	}, nil)

	s.registerTools()
	return s
}

// Start serves over stdio until ctx ends or the client disconnects
func (s *Server) Start(ctx context.Context) error {
	s.log.Info("MCP server starting", slog.String("transport", "stdio"))
	return s.mcpServer.Run(ctx, &sdk.StdioTransport{})
}

// Connect serves a single session over t
func (s *Server) Connect(ctx context.Context, t sdk.Transport) (*sdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speech_status",
		Description: "Report whether speech input is supported, listening, loading the model, and the last error",
	}, s.handleStatus)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speech_start",
		Description: "Start listening for spoken German numbers; may require consent first",
	}, s.handleStart)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speech_stop",
		Description: "Stop listening and release the microphone",
	}, s.handleStop)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "speech_consent",
		Description: "Accept or decline on-device speech input",
	}, s.handleConsent)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "parse_number",
		Description: "Parse a German number phrase between 0 and 100",
	}, s.handleParseNumber)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "next_number",
		Description: "Wait for the next recognized number",
	}, s.handleNextNumber)

	sdk.AddTool(s.mcpServer, &sdk.Tool{
		Name:        "recent_numbers",
		Description: "List recently recognized numbers, newest first",
	}, s.handleRecentNumbers)
}
