package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// Prompt is shown before each input line.
const Prompt = "metro> "

// QuitCommand ends the prompt loop.
const QuitCommand = ".quit"

// LineReader is the input side of the prompt loop.
type LineReader interface {
	GetLine(prompt string) (string, error)
}

// Repl sends every typed line through c until input ends, the user types
// .quit or ctx is done. Send failures are reported on out and do not stop
// the loop; the connection comes back on its own.
func Repl(ctx context.Context, c *Client, in LineReader, out io.Writer) error {
	for ctx.Err() == nil {
		line, err := in.GetLine(Prompt)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == QuitCommand:
			return nil
		}
		if err := c.Send(Expand(line)); err != nil {
			fmt.Fprintf(out, "send: %v\n", err)
		}
	}
	return nil
}
