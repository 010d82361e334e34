package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/emmett/zahl/internal/numparse"
	"github.com/emmett/zahl/internal/session"
	"github.com/emmett/zahl/internal/stt"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "zahl.v1.Speech"

// eventBuffer bounds events queued for a slow Events client
const eventBuffer = 64

// Speech is the session surface exposed over gRPC
type Speech interface {
	Start()
	Stop()
	Toggle()
	AcceptConsent()
	DeclineConsent()
	ResetError()
	Status() session.Status
	OnNumber(cb func(int)) func()
	OnTranscript(cb func(stt.Transcript)) func()
	OnError(cb func(*session.Error)) func()
	OnState(cb func(session.State)) func()
}

// SpeechService implements zahl.v1.Speech. Messages are well-known types:
// commands take Empty and return the session status as a Struct.
type SpeechService struct {
	speech Speech
	log    *slog.Logger
}

// NewSpeechService creates a new speech service
func NewSpeechService(speech Speech, logger *slog.Logger) *SpeechService {
	return &SpeechService{speech: speech, log: logger}
}

func (s *SpeechService) command(fn func()) (*structpb.Struct, error) {
	if fn != nil {
		fn()
	}
	return StatusStruct(s.speech.Status())
}

// Start begins listening
func (s *SpeechService) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.Start)
}

// Stop releases the microphone
func (s *SpeechService) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.Stop)
}

// Toggle flips listening
func (s *SpeechService) Toggle(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.Toggle)
}

// AcceptConsent grants speech consent
func (s *SpeechService) AcceptConsent(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.AcceptConsent)
}

// DeclineConsent abandons a pending start
func (s *SpeechService) DeclineConsent(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.DeclineConsent)
}

// ResetError clears the last error
func (s *SpeechService) ResetError(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(s.speech.ResetError)
}

// GetStatus returns the current status
func (s *SpeechService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.command(nil)
}

// ParseNumber parses {"text": "..."} into {"value": n, "ok": bool}
func (s *SpeechService) ParseNumber(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	text, ok := req.GetFields()["text"]
	if !ok {
		return nil, status.Error(codes.InvalidArgument, "text is required")
	}
	value, parsed := numparse.Parse(text.GetStringValue())
	return structpb.NewStruct(map[string]any{"value": value, "ok": parsed})
}

// Events streams numbers, transcripts, errors and state changes until the
// client goes away. Events are dropped when the client cannot keep up.
func (s *SpeechService) Events(_ *emptypb.Empty, stream grpc.ServerStreamingServer[structpb.Struct]) error {
	ctx := stream.Context()
	events := make(chan map[string]any, eventBuffer)
	push := func(ev map[string]any) {
		select {
		case events <- ev:
		default:
			s.log.Debug("dropping event for slow client", slog.Any("type", ev["type"]))
		}
	}

	unsubs := []func(){
		s.speech.OnNumber(func(v int) {
			push(map[string]any{"type": "number", "value": v, "at": time.Now().UTC().Format(time.RFC3339Nano)})
		}),
		s.speech.OnTranscript(func(t stt.Transcript) {
			push(map[string]any{"type": "transcript", "text": t.Text, "final": t.Final, "confidence": t.Confidence})
		}),
		s.speech.OnError(func(e *session.Error) {
			push(map[string]any{"type": "error", "kind": string(e.Kind), "code": e.Code, "message": e.Message})
		}),
		s.speech.OnState(func(st session.State) {
			push(map[string]any{"type": "state", "state": st.String()})
		}),
	}
	defer func() {
		for _, u := range unsubs {
			u()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			msg, err := structpb.NewStruct(ev)
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

// StatusStruct encodes a session status
func StatusStruct(st session.Status) (*structpb.Struct, error) {
	fields := map[string]any{
		"supported": st.Supported,
		"listening": st.Listening,
		"ready":     st.Ready,
		"loading":   st.Loading,
		"volume":    st.Volume,
		"state":     st.State.String(),
		"consent":   st.Consent,
	}
	if st.HasProgress {
		fields["progress"] = st.Progress
	}
	if st.Error != "" {
		fields["error"] = st.Error
		fields["error_kind"] = string(st.ErrorKind)
	}
	if st.SessionID != "" {
		fields["session_id"] = st.SessionID
	}
	return structpb.NewStruct(fields)
}
