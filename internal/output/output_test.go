package output

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/musher-dev/adoc/internal/terminal"
	"github.com/musher-dev/adoc/internal/testutil"
)

// testTerminal returns a non-TTY terminal without color.
func testTerminal() *terminal.Info {
	return &terminal.Info{
		IsTTY:   false,
		NoColor: true,
		Width:   80,
		Height:  24,
	}
}

func TestWriter_PrintRespectsQuiet(t *testing.T) {
	tests := []struct {
		name  string
		quiet bool
		write func(*Writer)
		want  string
	}{
		{name: "print", write: func(w *Writer) { w.Print("Hello, %s!", "contoso") }, want: "Hello, contoso!"},
		{name: "println", write: func(w *Writer) { w.Println("a", "b") }, want: "a b\n"},
		{name: "write", write: func(w *Writer) { _, _ = w.Write([]byte("raw")) }, want: "raw"},
		{name: "quiet print", quiet: true, write: func(w *Writer) { w.Print("hidden") }, want: ""},
		{name: "quiet success", quiet: true, write: func(w *Writer) { w.Success("hidden") }, want: ""},
		{name: "quiet table", quiet: true, write: func(w *Writer) { w.Table([]string{"A"}, nil) }, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer

			w := NewWriter(&buf, &buf, testTerminal())
			w.Quiet = tt.quiet

			tt.write(w)

			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestWriter_ErrorsGoToStderr(t *testing.T) {
	var outBuf, errBuf bytes.Buffer

	w := NewWriter(&outBuf, &errBuf, testTerminal())
	w.Quiet = true

	w.Error("Error: %s", "boom")
	w.Failure("cycle failed")

	if outBuf.Len() > 0 {
		t.Errorf("stdout = %q, want empty", outBuf.String())
	}

	want := "Error: boom" + XMark + " cycle failed\n"
	if got := errBuf.String(); got != want {
		t.Errorf("stderr = %q, want %q", got, want)
	}
}

func TestWriter_Debug(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Debug("hidden")

	if buf.Len() != 0 {
		t.Fatalf("Debug() without verbose wrote %q", buf.String())
	}

	w.Verbose = true
	w.Debug("cycle %d", 3)

	if !strings.Contains(buf.String(), "[debug] cycle 3") {
		t.Fatalf("Debug() = %q", buf.String())
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "", want: FormatText},
		{in: "text", want: FormatText},
		{in: "JSON", want: FormatJSON},
		{in: " yaml ", want: FormatYAML},
		{in: "toml", want: FormatTOML},
		{in: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseFormat(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}

			if got != tt.want {
				t.Fatalf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestWriter_PrintStructured(t *testing.T) {
	payload := map[string]any{"organization": "contoso", "projects": []string{"web", "api"}}

	tests := []struct {
		format Format
		want   []string
	}{
		{format: FormatJSON, want: []string{`"organization": "contoso"`, `"web"`}},
		{format: FormatYAML, want: []string{"organization: contoso", "- web", "- api"}},
		{format: FormatTOML, want: []string{"organization = ", "contoso", "projects = "}},
	}

	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			var buf bytes.Buffer

			w := NewWriter(&buf, &buf, testTerminal())
			w.Format = tt.format

			if !w.Structured() {
				t.Fatal("Structured() = false")
			}

			if err := w.PrintStructured(payload); err != nil {
				t.Fatalf("PrintStructured() error = %v", err)
			}

			for _, fragment := range tt.want {
				if !strings.Contains(buf.String(), fragment) {
					t.Errorf("output missing %q:\n%s", fragment, buf.String())
				}
			}
		})
	}
}

func TestWriter_Context(t *testing.T) {
	w := NewWriter(&bytes.Buffer{}, &bytes.Buffer{}, testTerminal())

	if got := FromContext(w.WithContext(context.Background())); got != w {
		t.Fatal("FromContext() did not return stored writer")
	}
}

func TestWriter_SetNoColor(t *testing.T) {
	term := &terminal.Info{IsTTY: true}
	w := NewWriter(&bytes.Buffer{}, &bytes.Buffer{}, term)

	w.SetNoColor(true)

	if w.Terminal().ColorEnabled() {
		t.Fatal("ColorEnabled() = true after SetNoColor(true)")
	}
}

func TestSpinner_Fallbacks(t *testing.T) {
	tests := []struct {
		name    string
		quiet   bool
		format  Format
		stop    func(*Spinner)
		wantOut string
		wantErr string
	}{
		{
			name:    "success",
			stop:    func(s *Spinner) { s.StopWithSuccess("Refreshed") },
			wantOut: "Polling... done\n" + CheckMark + " Refreshed\n",
		},
		{
			name:    "failure",
			stop:    func(s *Spinner) { s.StopWithFailure("Daemon unreachable") },
			wantOut: "Polling... failed\n",
			wantErr: XMark + " Daemon unreachable\n",
		},
		{
			name:    "warning",
			stop:    func(s *Spinner) { s.StopWithWarning("") },
			wantOut: "Polling... warning\n",
		},
		{
			name:   "quiet",
			quiet:  true,
			stop:   func(s *Spinner) { s.UpdateMessage("x"); s.Stop() },
			format: FormatText,
		},
		{
			name:   "structured output stays clean",
			format: FormatJSON,
			stop:   func(s *Spinner) { s.StopWithSuccess("Refreshed") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var outBuf, errBuf bytes.Buffer

			w := NewWriter(&outBuf, &errBuf, testTerminal())
			w.Quiet = tt.quiet

			if tt.format != "" {
				w.Format = tt.format
			}

			s := w.Spinner("Polling")
			s.Start()
			tt.stop(s)

			if tt.format == FormatJSON {
				if strings.Contains(outBuf.String(), "Polling") {
					t.Fatalf("structured mode printed progress text: %q", outBuf.String())
				}

				return
			}

			if got := outBuf.String(); got != tt.wantOut {
				t.Errorf("stdout = %q, want %q", got, tt.wantOut)
			}

			if got := errBuf.String(); got != tt.wantErr {
				t.Errorf("stderr = %q, want %q", got, tt.wantErr)
			}
		})
	}
}

func TestPrintJSON_Golden(t *testing.T) {
	type summary struct {
		Organization string `json:"organization"`
		ActiveBuilds int    `json:"activeBuilds"`
		Watching     bool   `json:"watching"`
	}

	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	if err := w.PrintJSON(summary{Organization: "contoso", ActiveBuilds: 2, Watching: true}); err != nil {
		t.Fatalf("PrintJSON() error = %v", err)
	}

	testutil.AssertGolden(t, buf.String(), "json_output.golden")
}

func TestStatusMessages_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())

	w.Success("Poll cycle finished")
	w.Warning("PAT expires in 3 days")
	w.Info("2 builds in progress")
	w.Muted("Last updated 5m ago")

	testutil.AssertGolden(t, buf.String(), "status_messages.golden")
}

func TestTable_Golden(t *testing.T) {
	var buf bytes.Buffer

	w := NewWriter(&buf, &buf, testTerminal())
	w.Table([]string{"ID", "PIPELINE", "STATUS"}, [][]string{
		{"42", "ci-main #20260101.1", "inProgress"},
		{"7", "docs #3", "notStarted"},
	})

	testutil.AssertGolden(t, buf.String(), "table.golden")
}
