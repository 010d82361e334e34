package output

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/emmett/zahl/internal/stt"
)

// ConsoleOutput is an interactive terminal formatter. Partial transcripts
// overwrite the current line; numbers are printed large on their own line.
type ConsoleOutput struct {
	mu            sync.Mutex
	writer        io.Writer
	showTimestamp bool
	showMetadata  bool
	partial       bool
	now           func() time.Time
}

// ConsoleConfig configures console output behavior
type ConsoleConfig struct {
	// ShowTimestamp prefixes each line with a timestamp
	ShowTimestamp bool

	// ShowMetadata displays transcript confidence
	ShowMetadata bool

	// Writer is the output destination (default: os.Stdout)
	Writer io.Writer
}

// NewConsoleOutput creates a new console output handler
func NewConsoleOutput(config ConsoleConfig) *ConsoleOutput {
	writer := config.Writer
	if writer == nil {
		writer = os.Stdout
	}

	return &ConsoleOutput{
		writer:        writer,
		showTimestamp: config.ShowTimestamp,
		showMetadata:  config.ShowMetadata,
		now:           time.Now,
	}
}

// WriteNumber prints a committed number
func (c *ConsoleOutput) WriteNumber(value int, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endPartialLocked()
	fmt.Fprintf(c.writer, "%s=> %d\n", c.stampLocked(at), value)
	return nil
}

// WriteTranscript shows partials in place and finals on their own line
func (c *ConsoleOutput) WriteTranscript(t stt.Transcript) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !t.Final {
		// carriage return overwrites the current line
		fmt.Fprintf(c.writer, "\r%-60s", t.Text)
		c.partial = true
		return nil
	}

	metadata := ""
	if c.showMetadata && t.Confidence > 0 {
		metadata = fmt.Sprintf(" (confidence: %.2f)", t.Confidence)
	}
	fmt.Fprintf(c.writer, "\r%s%s%s\n", c.stampLocked(t.At), t.Text, metadata)
	c.partial = false
	return nil
}

// WriteEvent writes a status line
func (c *ConsoleOutput) WriteEvent(eventType, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.endPartialLocked()
	fmt.Fprintf(c.writer, "[%s] %s\n", strings.ToUpper(eventType), message)
	return nil
}

// WriteAudioLevel draws the input level as a bar
func (c *ConsoleOutput) WriteAudioLevel(level float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	level = min(max(level, 0), 1)
	barLength := int(level * 50)
	fmt.Fprintf(c.writer, "\rLevel: [%-50s] %.1f%%", strings.Repeat("=", barLength), level*100)
	c.partial = true
	return nil
}

// Close terminates a dangling partial line
func (c *ConsoleOutput) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endPartialLocked()
	return nil
}

func (c *ConsoleOutput) endPartialLocked() {
	if c.partial {
		fmt.Fprintln(c.writer)
		c.partial = false
	}
}

func (c *ConsoleOutput) stampLocked(at time.Time) string {
	if !c.showTimestamp {
		return ""
	}
	if at.IsZero() {
		at = c.now()
	}
	return fmt.Sprintf("[%s] ", at.Format("15:04:05"))
}
