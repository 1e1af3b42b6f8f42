package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/darkhz/bttnc/orchestrator"
	"github.com/darkhz/bttnc/theme"
)

// newPrompter returns a callsign prompt on the terminal, or nil if the input
// is not a terminal.
func newPrompter(in *os.File, out io.Writer) orchestrator.Prompter {
	if !isatty.IsTerminal(in.Fd()) && !isatty.IsCygwinTerminal(in.Fd()) {
		return nil
	}

	return promptFrom(in, out)
}

// promptFrom returns a callsign prompt that reads a single line from r.
func promptFrom(r io.Reader, out io.Writer) orchestrator.Prompter {
	reader := bufio.NewReader(r)

	return func(ctx context.Context) (string, error) {
		type answer struct {
			line string
			err  error
		}

		fmt.Fprint(out, theme.ColorWrap(theme.ThemeHint, "[?] Enter your callsign: "))

		answered := make(chan answer, 1)
		go func() {
			line, err := reader.ReadString('\n')
			if errors.Is(err, io.EOF) && line != "" {
				err = nil
			}

			answered <- answer{strings.TrimSpace(line), err}
		}()

		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return "", ctx.Err()

		case a := <-answered:
			return a.line, a.err
		}
	}
}
