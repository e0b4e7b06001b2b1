package testlog

import (
	"fmt"
	"io"
	"os"

	"github.com/mgutz/ansi"
	"golang.org/x/term"
)

var (
	colorOK   = ansi.ColorCode("green+b")
	colorFail = ansi.ColorCode("red+b")
	colorDim  = ansi.ColorCode("default+h")
)

// ColorFor reports whether output to w should be coloured.
func ColorFor(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func paint(s, color string, on bool) string {
	if !on {
		return s
	}
	return color + s + ansi.Reset
}

// Write prints one line per case followed by the failure banner, if any,
// and a summary.
func (r *Report) Write(w io.Writer, color bool) error {
	for _, c := range r.Cases {
		status := paint("ok  ", colorOK, color)
		if !c.Passed {
			status = paint("FAIL", colorFail, color)
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", status, c.Name); err != nil {
			return err
		}
		for _, line := range c.Output {
			if _, err := fmt.Fprintf(w, "     %s\n", paint(line, colorDim, color)); err != nil {
				return err
			}
		}
	}

	if f := r.Failure; f != nil {
		msg := f.Message
		if f.Location != "" {
			msg += " (" + f.Location + ")"
		}
		if _, err := fmt.Fprintf(w, "%s %s\n", paint("panic", colorFail, color), msg); err != nil {
			return err
		}
	}

	declared := "?"
	if r.Declared >= 0 {
		declared = fmt.Sprint(r.Declared)
	}
	summary := fmt.Sprintf("%d/%s passed", r.Passed(), declared)
	if r.Complete() {
		summary = paint(summary, colorOK, color)
	} else {
		summary = paint(summary, colorFail, color)
	}
	_, err := fmt.Fprintln(w, summary)
	return err
}
