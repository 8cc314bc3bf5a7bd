// Package prompt reads interactive answers for auth and config commands.
package prompt

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"github.com/musher-dev/adoc/internal/output"
)

var errCanceled = errors.New("prompt canceled")

// IsCanceled reports whether err came from the user closing input.
func IsCanceled(err error) bool {
	return errors.Is(err, errCanceled)
}

// Prompter handles interactive prompts.
type Prompter struct {
	out      *output.Writer
	reader   *bufio.Reader
	readPass func() ([]byte, error)
}

// New creates a Prompter reading from stdin.
func New(out *output.Writer) *Prompter {
	return NewWithInput(out, os.Stdin, func() ([]byte, error) {
		return term.ReadPassword(int(os.Stdin.Fd()))
	})
}

// NewWithInput creates a Prompter over in. readPass supplies hidden input.
func NewWithInput(out *output.Writer, in io.Reader, readPass func() ([]byte, error)) *Prompter {
	return &Prompter{
		out:      out,
		reader:   bufio.NewReader(in),
		readPass: readPass,
	}
}

// CanPrompt returns true if interactive prompts are available.
func (p *Prompter) CanPrompt() bool {
	return p.out.Terminal().InteractiveEnabled() && !p.out.NoInput
}

func (p *Prompter) readLine() (string, error) {
	line, err := p.reader.ReadString('\n')
	if errors.Is(err, io.EOF) && line == "" {
		return "", errCanceled
	}

	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read input: %w", err)
	}

	return strings.TrimSpace(line), nil
}

// Input asks for a line of text, returning defaultValue on an empty answer.
func (p *Prompter) Input(message, defaultValue string) (string, error) {
	if defaultValue != "" {
		p.out.Print("%s [%s]: ", message, defaultValue)
	} else {
		p.out.Print("%s: ", message)
	}

	answer, err := p.readLine()
	if err != nil {
		return "", err
	}

	if answer == "" {
		return defaultValue, nil
	}

	return answer, nil
}

// Confirm prompts for a yes/no answer.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	hint := "y/N"
	if defaultValue {
		hint = "Y/n"
	}

	p.out.Print("%s [%s]: ", message, hint)

	answer, err := p.readLine()
	if err != nil {
		return defaultValue, err
	}

	switch strings.ToLower(answer) {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// Password prompts for hidden input, used for the personal access token.
func (p *Prompter) Password(message string) (string, error) {
	p.out.Print("%s: ", message)

	secret, err := p.readPass()
	p.out.Println()

	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}

	return strings.TrimSpace(string(secret)), nil
}

// Select asks the user to pick one of options and returns its index.
func (p *Prompter) Select(message string, options []string) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("no options to select from")
	}

	p.out.Println(message)

	for i, opt := range options {
		p.out.Print("  [%d] %s\n", i+1, opt)
	}

	for {
		p.out.Print("Select [1-%d]: ", len(options))

		answer, err := p.readLine()
		if err != nil {
			return -1, err
		}

		num, convErr := strconv.Atoi(answer)
		if answer == "" || convErr != nil || num < 1 || num > len(options) {
			p.out.Warning("Invalid selection. Enter a number between 1 and %d", len(options))
			continue
		}

		return num - 1, nil
	}
}
