package client

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	historyFileName = ".metro_history"
	historySize     = 500
)

// LineEditor reads prompt lines. On a terminal it uses readline with a
// persistent history; with piped input it falls back to a plain scanner.
type LineEditor struct {
	interactive bool
	rl          *readline.Instance
	scanner     *bufio.Scanner
	out         io.Writer
}

// NewLineEditor picks the mode from stdin.
func NewLineEditor() *LineEditor {
	if !term.IsTerminal(int(os.Stdin.Fd())) || os.Getenv("INSIDE_EMACS") != "" {
		return newScannerEditor(os.Stdin, os.Stdout)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            historyPath(),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "readline unavailable (%v), using basic input\n", err)
		return newScannerEditor(os.Stdin, os.Stdout)
	}
	return &LineEditor{interactive: true, rl: rl, out: os.Stdout}
}

func newScannerEditor(in io.Reader, out io.Writer) *LineEditor {
	return &LineEditor{scanner: bufio.NewScanner(in), out: out}
}

// GetLine reads one line. Ctrl-D, Ctrl-C and exhausted input return io.EOF.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if !le.interactive {
		fmt.Fprint(le.out, prompt)
		if !le.scanner.Scan() {
			if err := le.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return le.scanner.Text(), nil
	}

	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if err == readline.ErrInterrupt {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool { return le.interactive }

// Close saves the history. Safe to call more than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return historyFileName
	}
	return filepath.Join(home, historyFileName)
}
