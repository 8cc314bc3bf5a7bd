// Package output writes CLI results to stdout/stderr.
//
// Human output uses status symbols and color when the terminal allows it;
// structured output (json, yaml, toml) is selected with --format and is what
// scripts should consume.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/musher-dev/adoc/internal/terminal"
)

// Status symbols.
const (
	CheckMark   = "✓"
	XMark       = "✗"
	WarningMark = "⚠"
	InfoMark    = "ℹ"
)

// Format selects how structured results are rendered.
type Format string

// Supported formats.
const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// ParseFormat validates a --format value.
func ParseFormat(raw string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(raw))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML, FormatTOML:
		return f, nil
	default:
		return "", fmt.Errorf("invalid format %q (allowed: text, json, yaml, toml)", raw)
	}
}

type contextKey struct{}

// Writer handles CLI output.
type Writer struct {
	Out     io.Writer
	Err     io.Writer
	Format  Format
	Quiet   bool
	Verbose bool
	NoInput bool

	terminal *terminal.Info
	tones    map[string]*color.Color
}

// Default returns a Writer for stdout/stderr.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter creates a Writer with custom writers and terminal info.
func NewWriter(out, errOut io.Writer, term *terminal.Info) *Writer {
	if !term.ColorEnabled() {
		color.NoColor = true
	}

	return &Writer{
		Out:      out,
		Err:      errOut,
		Format:   FormatText,
		terminal: term,
		tones: map[string]*color.Color{
			CheckMark:   color.New(color.FgGreen),
			XMark:       color.New(color.FgRed),
			WarningMark: color.New(color.FgYellow),
			InfoMark:    color.New(color.FgCyan),
			"":          color.New(color.FgHiBlack),
		},
	}
}

// WithContext stores the Writer in ctx.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext retrieves the Writer from ctx, or returns Default().
func FromContext(ctx context.Context) *Writer {
	if w, ok := ctx.Value(contextKey{}).(*Writer); ok {
		return w
	}

	return Default()
}

// Terminal returns the terminal info.
func (w *Writer) Terminal() *terminal.Info {
	return w.terminal
}

// SetNoColor disables colored output.
func (w *Writer) SetNoColor(disabled bool) {
	w.terminal.ForceFlag = disabled
	if disabled {
		color.NoColor = true
	}
}

// Structured reports whether results should be emitted machine-readable.
func (w *Writer) Structured() bool {
	return w.Format != "" && w.Format != FormatText
}

// Print writes to stdout unless quiet.
func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Println writes a line to stdout unless quiet.
func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// Write implements io.Writer on Out.
func (w *Writer) Write(p []byte) (int, error) {
	if w.Quiet {
		return len(p), nil
	}

	return w.Out.Write(p)
}

// Error writes to stderr.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.Err, format, args...)
}

// Errorln writes a line to stderr.
func (w *Writer) Errorln(args ...any) {
	fmt.Fprintln(w.Err, args...)
}

// Debug writes to stdout only in verbose mode.
func (w *Writer) Debug(format string, args ...any) {
	if w.Verbose {
		w.tones[""].Fprintf(w.Out, "[debug] "+format+"\n", args...)
	}
}

// PrintJSON writes v as indented JSON.
func (w *Writer) PrintJSON(v any) error {
	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// PrintYAML writes v as YAML.
func (w *Writer) PrintYAML(v any) error {
	enc := yaml.NewEncoder(w.Out)
	enc.SetIndent(2)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}

	return enc.Close()
}

// PrintTOML writes v as TOML. v must be a map or struct at the top level.
func (w *Writer) PrintTOML(v any) error {
	enc := toml.NewEncoder(w.Out)
	enc.SetIndentTables(true)

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode toml: %w", err)
	}

	return nil
}

// PrintStructured renders v in the writer's structured format.
func (w *Writer) PrintStructured(v any) error {
	switch w.Format {
	case FormatYAML:
		return w.PrintYAML(v)
	case FormatTOML:
		return w.PrintTOML(v)
	default:
		return w.PrintJSON(v)
	}
}

func (w *Writer) status(dst io.Writer, mark, msg string) {
	if w.terminal.ColorEnabled() {
		w.tones[mark].Fprint(dst, mark+" ")
		fmt.Fprintln(dst, msg)

		return
	}

	fmt.Fprintln(dst, mark+" "+msg)
}

// Success writes a message prefixed with a check mark.
func (w *Writer) Success(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, CheckMark, fmt.Sprintf(format, args...))
	}
}

// Failure writes a message prefixed with an X mark to stderr.
func (w *Writer) Failure(format string, args ...any) {
	w.status(w.Err, XMark, fmt.Sprintf(format, args...))
}

// Warning writes a warning message.
func (w *Writer) Warning(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, WarningMark, fmt.Sprintf(format, args...))
	}
}

// Info writes an info message.
func (w *Writer) Info(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, InfoMark, fmt.Sprintf(format, args...))
	}
}

// Muted writes gray text.
func (w *Writer) Muted(format string, args ...any) {
	if w.Quiet {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if w.terminal.ColorEnabled() {
		w.tones[""].Fprintln(w.Out, msg)
		return
	}

	fmt.Fprintln(w.Out, msg)
}

// Table writes rows as left-aligned columns separated by two spaces. Widths
// are measured in terminal cells so emoji and CJK titles stay aligned.
func (w *Writer) Table(header []string, rows [][]string) {
	if w.Quiet {
		return
	}

	widths := make([]int, len(header))
	measure := func(row []string) {
		for i, cell := range row {
			if i < len(widths) {
				widths[i] = max(widths[i], runewidth.StringWidth(cell))
			}
		}
	}

	measure(header)

	for _, row := range rows {
		measure(row)
	}

	writeRow := func(row []string) {
		var b strings.Builder

		for i, cell := range row {
			if i >= len(widths) {
				break
			}

			if i == len(row)-1 || i == len(widths)-1 {
				b.WriteString(cell)
				break
			}

			b.WriteString(runewidth.FillRight(cell, widths[i]))
			b.WriteString("  ")
		}

		fmt.Fprintln(w.Out, b.String())
	}

	writeRow(header)

	for _, row := range rows {
		writeRow(row)
	}
}

// Spinner creates a spinner for long operations. When spinners are disabled
// the returned value prints plain progress text instead.
func (w *Writer) Spinner(message string) *Spinner {
	s := &Spinner{message: message, writer: w}
	if w.Quiet || w.Structured() || !w.terminal.SpinnersEnabled() {
		return s
	}

	s.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.spinner.Writer = w.Out
	s.spinner.Suffix = " " + message

	return s
}

// Spinner wraps briandowns/spinner with a plain-text fallback.
type Spinner struct {
	spinner *spinner.Spinner
	message string
	writer  *Writer
}

// Start begins the animation.
func (s *Spinner) Start() {
	if s.spinner == nil {
		if !s.writer.Structured() {
			s.writer.Print("%s... ", s.message)
		}

		return
	}

	s.spinner.Start()
}

// Stop stops the animation.
func (s *Spinner) Stop() {
	if s.spinner != nil {
		s.spinner.Stop()
	}
}

func (s *Spinner) finish(fallback string, report func(string, ...any), message string) {
	if s.spinner == nil {
		if s.writer.Structured() {
			return
		}

		s.writer.Println(fallback)
	} else {
		s.spinner.Stop()
	}

	if message != "" {
		report("%s", message)
	}
}

// StopWithSuccess stops the spinner and reports success.
func (s *Spinner) StopWithSuccess(message string) {
	s.finish("done", s.writer.Success, message)
}

// StopWithFailure stops the spinner and reports failure.
func (s *Spinner) StopWithFailure(message string) {
	s.finish("failed", s.writer.Failure, message)
}

// StopWithWarning stops the spinner and reports a warning.
func (s *Spinner) StopWithWarning(message string) {
	s.finish("warning", s.writer.Warning, message)
}

// UpdateMessage changes the spinner message.
func (s *Spinner) UpdateMessage(message string) {
	s.message = message
	if s.spinner != nil {
		s.spinner.Suffix = " " + message
	}
}
