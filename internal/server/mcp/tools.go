package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/emmett/zahl/internal/journal"
	"github.com/emmett/zahl/internal/numparse"
	"github.com/emmett/zahl/internal/session"
)

const (
	defaultNextTimeout = 10 * time.Second
	maxNextTimeout     = 60 * time.Second
	defaultRecent      = 10
)

type NoArgs struct{}

type StatusOutput struct {
	Supported bool    `json:"supported"`
	Listening bool    `json:"listening"`
	Ready     bool    `json:"ready"`
	Loading   bool    `json:"loading"`
	Progress  *int    `json:"progress,omitempty"`
	Volume    float64 `json:"volume"`
	State     string  `json:"state"`
	Consent   bool    `json:"consent"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
}

type ConsentArgs struct {
	Accept bool `json:"accept" jsonschema:"true to allow speech input, false to decline"`
}

type ParseArgs struct {
	Text string `json:"text" jsonschema:"German number phrase, for example siebenundvierzig"`
}

type NumberOutput struct {
	Value int  `json:"value"`
	Found bool `json:"found"`
}

type NextArgs struct {
	TimeoutMS int `json:"timeout_ms,omitempty" jsonschema:"how long to wait in milliseconds (default 10000, max 60000)"`
}

type RecentArgs struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum numbers to return (default 10)"`
}

type RecentEntry struct {
	Value     int    `json:"value"`
	SessionID string `json:"session_id,omitempty"`
	At        string `json:"at"`
}

type RecentOutput struct {
	Numbers []RecentEntry `json:"numbers"`
}

// result mirrors out as JSON text for clients that ignore structured content
func result[T any](out T) (*sdk.CallToolResult, T, error) {
	data, err := json.Marshal(out)
	if err != nil {
		var zero T
		return nil, zero, fmt.Errorf("encode result: %w", err)
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(data)}}}, out, nil
}

func statusOutput(st session.Status) StatusOutput {
	out := StatusOutput{
		Supported: st.Supported,
		Listening: st.Listening,
		Ready:     st.Ready,
		Loading:   st.Loading,
		Volume:    st.Volume,
		State:     st.State.String(),
		Consent:   st.Consent,
		Error:     st.Error,
		ErrorKind: string(st.ErrorKind),
	}
	if st.HasProgress {
		p := st.Progress
		out.Progress = &p
	}
	return out
}

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args NoArgs) (*sdk.CallToolResult, StatusOutput, error) {
	return result(statusOutput(s.speech.Status()))
}

func (s *Server) handleStart(ctx context.Context, req *sdk.CallToolRequest, args NoArgs) (*sdk.CallToolResult, StatusOutput, error) {
	s.speech.Start()
	return result(statusOutput(s.speech.Status()))
}

func (s *Server) handleStop(ctx context.Context, req *sdk.CallToolRequest, args NoArgs) (*sdk.CallToolResult, StatusOutput, error) {
	s.speech.Stop()
	return result(statusOutput(s.speech.Status()))
}

func (s *Server) handleConsent(ctx context.Context, req *sdk.CallToolRequest, args ConsentArgs) (*sdk.CallToolResult, StatusOutput, error) {
	if args.Accept {
		s.speech.AcceptConsent()
	} else {
		s.speech.DeclineConsent()
	}
	return result(statusOutput(s.speech.Status()))
}

func (s *Server) handleParseNumber(ctx context.Context, req *sdk.CallToolRequest, args ParseArgs) (*sdk.CallToolResult, NumberOutput, error) {
	value, ok := numparse.Parse(args.Text)
	return result(NumberOutput{Value: value, Found: ok})
}

func (s *Server) handleNextNumber(ctx context.Context, req *sdk.CallToolRequest, args NextArgs) (*sdk.CallToolResult, NumberOutput, error) {
	timeout := defaultNextTimeout
	if args.TimeoutMS > 0 {
		timeout = min(time.Duration(args.TimeoutMS)*time.Millisecond, maxNextTimeout)
	}

	numbers := make(chan int, 1)
	unsubscribe := s.speech.OnNumber(func(v int) {
		select {
		case numbers <- v:
		default:
		}
	})
	defer unsubscribe()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-numbers:
		return result(NumberOutput{Value: v, Found: true})
	case <-timer.C:
		return result(NumberOutput{})
	case <-ctx.Done():
		return nil, NumberOutput{}, ctx.Err()
	}
}

func (s *Server) handleRecentNumbers(ctx context.Context, req *sdk.CallToolRequest, args RecentArgs) (*sdk.CallToolResult, RecentOutput, error) {
	if s.history == nil {
		return nil, RecentOutput{}, errors.New("recognition journal is disabled")
	}
	limit := args.Limit
	if limit <= 0 {
		limit = defaultRecent
	}

	entries, err := s.history.Recent(ctx, journal.KindNumber, limit)
	if err != nil {
		return nil, RecentOutput{}, fmt.Errorf("failed to read journal: %w", err)
	}

	out := RecentOutput{Numbers: make([]RecentEntry, 0, len(entries))}
	for _, e := range entries {
		out.Numbers = append(out.Numbers, RecentEntry{Value: e.Value, SessionID: e.SessionID, At: e.CreatedAt.UTC().Format(time.RFC3339)})
	}
	return result(out)
}
