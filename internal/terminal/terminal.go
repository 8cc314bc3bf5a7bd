// Package terminal detects TTY capabilities for stdout and stdin.
package terminal

import (
	"os"

	"golang.org/x/term"
)

const (
	defaultWidth  = 80
	defaultHeight = 24
)

// Info holds terminal capability information.
type Info struct {
	IsTTY      bool
	StdinIsTTY bool
	NoColor    bool
	Width      int
	Height     int
	ForceFlag  bool // set by --no-color
}

// Detect returns terminal information for the current process.
func Detect() *Info {
	info := DetectFile(os.Stdout)
	info.StdinIsTTY = term.IsTerminal(int(os.Stdin.Fd()))

	return info
}

// DetectFile inspects f as the output terminal. NO_COLOR (https://no-color.org/)
// and TERM=dumb both disable color.
func DetectFile(f *os.File) *Info {
	fd := int(f.Fd())
	info := &Info{
		IsTTY:  term.IsTerminal(fd),
		Width:  defaultWidth,
		Height: defaultHeight,
	}

	if info.IsTTY {
		if w, h, err := term.GetSize(fd); err == nil && w > 0 && h > 0 {
			info.Width, info.Height = w, h
		}
	}

	_, info.NoColor = os.LookupEnv("NO_COLOR")
	if os.Getenv("TERM") == "dumb" {
		info.NoColor = true
	}

	return info
}

// ColorEnabled returns true if colored output should be used.
func (t *Info) ColorEnabled() bool {
	return !t.ForceFlag && t.IsTTY && !t.NoColor
}

// InteractiveEnabled returns true if prompts and the dashboard may run.
func (t *Info) InteractiveEnabled() bool {
	return t.IsTTY && t.StdinIsTTY
}

// SpinnersEnabled returns true if spinners should be animated.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
