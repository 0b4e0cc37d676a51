// Package clipboard copies exported text to the user's clipboard, falling
// back to an OSC 52 terminal sequence when no system clipboard is reachable.
package clipboard

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/aymanbagabas/go-osc52/v2"
)

var (
	// ErrNothingToCopy is returned for blank text.
	ErrNothingToCopy = errors.New("nothing to copy")
	// ErrClipboardUnavailable is returned when every copy method failed.
	ErrClipboardUnavailable = errors.New("clipboard unavailable")
)

// Method names the mechanism that performed a copy.
type Method string

const (
	MethodSystem Method = "system"
	MethodOSC52  Method = "osc52"
)

// Writer copies text using the first method that works.
type Writer struct {
	// Terminal receives the OSC 52 sequence. Nil disables the fallback.
	Terminal io.Writer

	system func(string) error
	getenv func(string) string
}

// NewWriter returns a writer that falls back to OSC 52 on stderr.
func NewWriter() *Writer {
	w := &Writer{Terminal: os.Stderr, getenv: os.Getenv}
	if !clipboard.Unsupported {
		w.system = clipboard.WriteAll
	}
	return w
}

// Write copies text. It reports which method succeeded.
func (w *Writer) Write(text string) (Method, error) {
	if strings.TrimSpace(text) == "" {
		return "", ErrNothingToCopy
	}

	sysErr := errors.New("system clipboard not supported")
	if w.system != nil {
		if sysErr = w.system(text); sysErr == nil {
			return MethodSystem, nil
		}
	}

	if w.Terminal == nil {
		return "", fmt.Errorf("%w: %w", ErrClipboardUnavailable, sysErr)
	}

	seq := osc52.New(text)
	if w.getenv != nil && w.getenv("TMUX") != "" {
		seq = seq.Tmux()
	} else if w.getenv != nil && strings.HasPrefix(w.getenv("TERM"), "screen") {
		seq = seq.Screen()
	}
	if _, err := seq.WriteTo(w.Terminal); err != nil {
		return "", fmt.Errorf("%w: %w", ErrClipboardUnavailable, errors.Join(sysErr, err))
	}
	return MethodOSC52, nil
}
