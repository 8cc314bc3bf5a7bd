package prompt

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/terminal"
)

func newTestPrompter(input string, pass func() ([]byte, error)) (*Prompter, *bytes.Buffer) {
	var buf bytes.Buffer

	out := output.NewWriter(&buf, &buf, &terminal.Info{NoColor: true})

	return NewWithInput(out, strings.NewReader(input), pass), &buf
}

func TestIsCanceled(t *testing.T) {
	if !IsCanceled(errCanceled) {
		t.Fatal("IsCanceled(errCanceled) = false, want true")
	}

	if !IsCanceled(errors.Join(errors.New("other"), errCanceled)) {
		t.Fatal("IsCanceled(wrapped errCanceled) = false, want true")
	}

	if IsCanceled(errors.New("not canceled")) {
		t.Fatal("IsCanceled(unrelated error) = true, want false")
	}
}

func TestInput(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		def     string
		want    string
		wantErr bool
	}{
		{name: "answer", input: "contoso\n", want: "contoso"},
		{name: "default on empty", input: "\n", def: "fabrikam", want: "fabrikam"},
		{name: "no trailing newline", input: "contoso", want: "contoso"},
		{name: "closed input", input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestPrompter(tt.input, nil)

			got, err := p.Input("Organization", tt.def)
			if tt.wantErr {
				if !IsCanceled(err) {
					t.Fatalf("Input() error = %v, want canceled", err)
				}

				return
			}

			if err != nil || got != tt.want {
				t.Fatalf("Input() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		def   bool
		want  bool
	}{
		{input: "y\n", want: true},
		{input: "YES\n", want: true},
		{input: "n\n", def: true, want: false},
		{input: "\n", def: true, want: true},
		{input: "maybe\n", def: true, want: false},
	}

	for _, tt := range tests {
		p, _ := newTestPrompter(tt.input, nil)

		got, err := p.Confirm("Enable bookmarks?", tt.def)
		if err != nil || got != tt.want {
			t.Errorf("Confirm(%q, %v) = %v, %v; want %v", tt.input, tt.def, got, err, tt.want)
		}
	}
}

func TestPassword(t *testing.T) {
	p, buf := newTestPrompter("", func() ([]byte, error) { return []byte("  secret-pat \n"), nil })

	got, err := p.Password("Personal access token")
	if err != nil || got != "secret-pat" {
		t.Fatalf("Password() = %q, %v", got, err)
	}

	if strings.Contains(buf.String(), "secret-pat") {
		t.Fatal("Password() echoed the secret")
	}

	p, _ = newTestPrompter("", func() ([]byte, error) { return nil, errors.New("no tty") })
	if _, err := p.Password("PAT"); err == nil {
		t.Fatal("Password() error = nil, want error")
	}
}

func TestSelect_RetriesInvalidAnswers(t *testing.T) {
	p, buf := newTestPrompter("0\nabc\n2\n", nil)

	got, err := p.Select("Project", []string{"web", "api", "docs"})
	if err != nil || got != 1 {
		t.Fatalf("Select() = %d, %v; want 1", got, err)
	}

	if n := strings.Count(buf.String(), "Invalid selection"); n != 2 {
		t.Fatalf("invalid selection warnings = %d, want 2", n)
	}
}

func TestSelect_NoOptions(t *testing.T) {
	p, _ := newTestPrompter("1\n", nil)

	if _, err := p.Select("Project", nil); err == nil {
		t.Fatal("Select() error = nil, want error")
	}
}
