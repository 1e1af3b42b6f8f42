package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"

	"github.com/darkhz/bttnc/orchestrator"
	"github.com/darkhz/bttnc/theme"
)

// spinner shows the current stage of a connection.
type spinner struct {
	out     io.Writer
	enabled bool

	bar *progressbar.ProgressBar
}

// newProgress returns a spinner on the standard error. It is disabled if the
// standard error is not a terminal, or if every step is logged.
func newProgress(verbose bool) *spinner {
	fd := os.Stderr.Fd()

	return &spinner{
		out:     os.Stderr,
		enabled: !verbose && (isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)),
	}
}

// Start shows the stage. The spinner is hidden while the connection is
// configured, since the callsign may be prompted for.
func (s *spinner) Start(stage orchestrator.Stage) {
	s.Stop()

	if !s.enabled || stage == orchestrator.StageConfigure {
		return
	}

	s.bar = progressbar.NewOptions(
		-1,
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(s.out),
		progressbar.OptionSetDescription(theme.ColorWrap(theme.ThemeProgress, string(stage))),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionThrottle(200*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// Tick shows the elapsed seconds of the stage.
func (s *spinner) Tick(stage orchestrator.Stage, tick int) {
	if s.bar == nil {
		return
	}

	s.bar.Describe(theme.ColorWrap(theme.ThemeProgress, fmt.Sprintf("%s (%ds)", stage, tick)))
	s.bar.Add(1)
}

// Stop hides the spinner.
func (s *spinner) Stop() {
	if s.bar == nil {
		return
	}

	s.bar.Finish()
	s.bar = nil
}
