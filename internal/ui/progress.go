package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/progress"
	"golang.org/x/term"

	"github.com/Josepavese/nidolab/internal/orchestrator"
)

// TerminalSink renders orchestrator progress for a human. On a terminal the
// batch delay is redrawn in place; otherwise only its completion is printed.
type TerminalSink struct {
	out         io.Writer
	bar         progress.Model
	interactive bool
	midLine     bool
}

// NewTerminalSink writes to w and detects whether w is a terminal.
func NewTerminalSink(w io.Writer) *TerminalSink {
	interactive := false
	if f, ok := w.(*os.File); ok {
		interactive = term.IsTerminal(int(f.Fd()))
	}
	return &TerminalSink{
		out:         w,
		bar:         progress.New(progress.WithDefaultGradient(), progress.WithWidth(30), progress.WithoutPercentage()),
		interactive: interactive,
	}
}

func (s *TerminalSink) endLine() {
	if s.midLine {
		fmt.Fprintln(s.out)
		s.midLine = false
	}
}

func (s *TerminalSink) barFor(e orchestrator.Event) string {
	return fmt.Sprintf("%s %3d%%", s.bar.ViewAs(float64(e.Percent())/100), e.Percent())
}

// Progress renders one event.
func (s *TerminalSink) Progress(e orchestrator.Event) {
	switch e.Kind {
	case orchestrator.KindWait:
		line := fmt.Sprintf("   %s %s %d/%ds", IconWait, s.barFor(e), e.Current, e.Total)
		if s.interactive {
			fmt.Fprintf(s.out, "\r%s", line)
			s.midLine = true
			if e.Current == e.Total {
				s.endLine()
			}
			return
		}
		if e.Current == e.Total {
			fmt.Fprintln(s.out, line)
		}

	case orchestrator.KindGroup, orchestrator.KindNode:
		s.endLine()
		fmt.Fprintf(s.out, "%s %s [%d/%d] %s\n", opIcon(e.Op), s.barFor(e), e.Current, e.Total, e.Message)

	case orchestrator.KindNodeError:
		s.endLine()
		fmt.Fprintf(s.out, "%s %s\n", IconError, errStyle.Render(e.Message))

	case orchestrator.KindDone:
		s.endLine()
		switch {
		case e.Err != nil:
			fmt.Fprintf(s.out, "%s %s\n", IconError, errStyle.Render(fmt.Sprintf("%s %s", e.Op, e.Message)))
		case e.Failed > 0:
			fmt.Fprintf(s.out, "%s %s\n", warnStyle.Render(IconWarning), fmt.Sprintf("%s finished, %d of %d nodes failed", e.Op, e.Failed, e.Total))
		default:
			fmt.Fprintf(s.out, "%s %s\n", okStyle.Render(IconSuccess), fmt.Sprintf("%s done (%d/%d nodes)", e.Op, e.Current, e.Total))
		}
	}
}

func opIcon(op orchestrator.Op) string {
	switch op {
	case orchestrator.OpStart:
		return IconRocket
	case orchestrator.OpStop:
		return IconStop
	case orchestrator.OpCheckpoint:
		return IconCamera
	default:
		return IconRewind
	}
}
