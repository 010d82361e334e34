// Package vosk implements the stt interfaces on top of the Vosk offline recognizer.
package vosk

import (
	"encoding/json"
	"fmt"
	"sync"

	vosk "github.com/alphacep/vosk-api/go"

	"github.com/emmett/zahl/internal/numparse"
	"github.com/emmett/zahl/internal/stt"
)

// unknownWord lets the decoder reject speech outside the grammar
const unknownWord = "[unk]"

// Result represents the JSON result from Vosk
type Result struct {
	Text   string `json:"text"`
	Result []struct {
		Conf  float64 `json:"conf"`
		End   float64 `json:"end"`
		Start float64 `json:"start"`
		Word  string  `json:"word"`
	} `json:"result,omitempty"`
	Partial string `json:"partial,omitempty"`
}

// Factory loads Vosk models from extracted model directories
type Factory struct {
	config stt.Config
}

// NewFactory creates a Factory. With numberGrammar set and no explicit
// cfg.Grammar, decoders are restricted to the spoken numbers 0 to 100.
func NewFactory(cfg stt.Config, numberGrammar bool) *Factory {
	if numberGrammar && len(cfg.Grammar) == 0 {
		cfg.Grammar = NumberGrammar()
	}
	return &Factory{config: cfg}
}

// NumberGrammar returns the restricted vocabulary used for number recognition
func NumberGrammar() []string {
	return append(numparse.Vocabulary(), unknownWord)
}

// NewModel implements stt.ModelFactory
func (f *Factory) NewModel(path string) (stt.Model, error) {
	vosk.SetLogLevel(-1)

	model, err := vosk.NewModel(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load model from %s: %w", path, err)
	}
	if model == nil {
		return nil, fmt.Errorf("failed to load model from %s: model returned nil", path)
	}

	var grammar string
	if len(f.config.Grammar) > 0 {
		b, err := json.Marshal(f.config.Grammar)
		if err != nil {
			model.Free()
			return nil, fmt.Errorf("failed to encode grammar: %w", err)
		}
		grammar = string(b)
	}

	return &Model{model: model, grammar: grammar, maxAlternatives: f.config.MaxAlternatives}, nil
}

// Model is a loaded Vosk model shared by all decoders
type Model struct {
	mu              sync.Mutex
	model           *vosk.VoskModel
	grammar         string
	maxAlternatives int
}

// NewDecoder implements stt.Model
func (m *Model) NewDecoder(sampleRate int) (stt.Decoder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model == nil {
		return nil, fmt.Errorf("model closed")
	}

	var (
		rec *vosk.VoskRecognizer
		err error
	)
	if m.grammar != "" {
		rec, err = vosk.NewRecognizerGrm(m.model, float64(sampleRate), m.grammar)
	} else {
		rec, err = vosk.NewRecognizer(m.model, float64(sampleRate))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create recognizer: %w", err)
	}

	if m.maxAlternatives > 0 {
		rec.SetMaxAlternatives(m.maxAlternatives)
	}
	// word results carry the confidence scores
	rec.SetWords(1)

	return &Decoder{rec: rec}, nil
}

// Close implements stt.Model
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.model != nil {
		m.model.Free()
		m.model = nil
	}
	return nil
}

// Decoder is one Vosk recognizer
type Decoder struct {
	mu  sync.Mutex
	rec *vosk.VoskRecognizer
}

// AcceptWaveform implements stt.Decoder
func (d *Decoder) AcceptWaveform(pcm []byte) (*stt.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rec == nil {
		return nil, &stt.EngineError{Code: stt.CodeDecodeFailed, Message: "decoder closed"}
	}

	switch state := d.rec.AcceptWaveform(pcm); {
	case state < 0:
		return nil, &stt.EngineError{Code: stt.CodeDecodeFailed, Message: "vosk rejected waveform"}
	case state > 0:
		var r Result
		if err := json.Unmarshal([]byte(d.rec.Result()), &r); err != nil {
			return nil, &stt.EngineError{Code: stt.CodeDecodeFailed, Message: "failed to parse result", Err: err}
		}
		return &stt.Result{Text: r.Text, Confidence: averageConfidence(r)}, nil
	default:
		var r Result
		if err := json.Unmarshal([]byte(d.rec.PartialResult()), &r); err != nil {
			return nil, &stt.EngineError{Code: stt.CodeDecodeFailed, Message: "failed to parse partial result", Err: err}
		}
		return &stt.Result{Text: r.Partial, Partial: true}, nil
	}
}

// Close implements stt.Decoder
func (d *Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rec != nil {
		d.rec.Free()
		d.rec = nil
	}
	return nil
}

func averageConfidence(r Result) float64 {
	if len(r.Result) == 0 {
		return 0
	}
	var sum float64
	for _, w := range r.Result {
		sum += w.Conf
	}
	return sum / float64(len(r.Result))
}
