package main

import (
	"bytes"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/zalando/go-keyring"

	"github.com/musher-dev/adoc/internal/config"
	clierrors "github.com/musher-dev/adoc/internal/errors"
	"github.com/musher-dev/adoc/internal/output"
	"github.com/musher-dev/adoc/internal/terminal"
)

// isolateEnv points config, state and credentials at temp locations and
// the control API at a port nothing listens on.
func isolateEnv(t *testing.T) string {
	t.Helper()

	keyring.MockInit()

	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir+"/config")
	t.Setenv("XDG_STATE_HOME", dir+"/state")
	t.Setenv("ADOC_PAT", "")
	os.Unsetenv("ADOC_PAT")

	for _, key := range config.Keys() {
		env := "ADOC_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		t.Setenv(env, "")
		os.Unsetenv(env)
	}

	t.Setenv("ADOC_CONTROL_ADDR", "127.0.0.1:1")

	return dir + "/config/adoc/config.yaml"
}

func testWriter() (*output.Writer, *bytes.Buffer) {
	var buf bytes.Buffer

	term := &terminal.Info{IsTTY: false, NoColor: true, Width: 80, Height: 24}

	return output.NewWriter(&buf, &buf, term), &buf
}

func TestHandleError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantOut  string
	}{
		{
			name:     "cli error with hint",
			err:      clierrors.NotConfigured("organization"),
			wantCode: clierrors.ExitConfig,
			wantOut:  "✗ No organization configured\nℹ Run 'adoc config set organization <org>' and 'adoc auth login'\n",
		},
		{
			name:     "unknown command",
			err:      errors.New(`unknown command "pol" for "adoc"`),
			wantCode: clierrors.ExitUsage,
			wantOut:  "✗ unknown command \"pol\" for \"adoc\"\nℹ Run 'adoc --help' for usage\n",
		},
		{
			name:     "plain error",
			err:      errors.New("boom"),
			wantCode: clierrors.ExitGeneral,
			wantOut:  "✗ boom\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, buf := testWriter()

			if code := handleError(out, tt.err); code != tt.wantCode {
				t.Errorf("handleError() = %d, want %d", code, tt.wantCode)
			}

			if buf.String() != tt.wantOut {
				t.Errorf("output = %q, want %q", buf.String(), tt.wantOut)
			}
		})
	}
}

func TestPickFlagOrEnv(t *testing.T) {
	t.Setenv("ADOC_TEST_VALUE", " from-env ")

	if got := pickFlagOrEnv("flag", "ADOC_TEST_VALUE", "fallback"); got != "flag" {
		t.Errorf("flag wins: got %q", got)
	}

	if got := pickFlagOrEnv("", "ADOC_TEST_VALUE", "fallback"); got != "from-env" {
		t.Errorf("env second: got %q", got)
	}

	if got := pickFlagOrEnv("", "ADOC_TEST_UNSET", "fallback"); got != "fallback" {
		t.Errorf("fallback last: got %q", got)
	}

	t.Setenv("ADOC_TEST_BOOL", "Yes")

	if !pickBoolFlagOrEnv(false, "ADOC_TEST_BOOL") {
		t.Error("pickBoolFlagOrEnv should accept yes")
	}
}

func TestRootCmd_InvalidFormat(t *testing.T) {
	isolateEnv(t)

	root := newRootCmd()
	root.SetArgs([]string{"version", "--format", "xml"})

	err := root.Execute()

	var cliErr *clierrors.CLIError
	if !clierrors.As(err, &cliErr) || cliErr.Code != clierrors.ExitUsage {
		t.Fatalf("error = %v, want usage error", err)
	}
}

func TestRootCmd_EnvFile(t *testing.T) {
	isolateEnv(t)

	envFile := t.TempDir() + "/adoc.env"
	if err := os.WriteFile(envFile, []byte("ADOC_TEST_FROM_FILE=loaded\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() { os.Unsetenv("ADOC_TEST_FROM_FILE") })

	root := newRootCmd()
	root.SetArgs([]string{"version", "--env-file", envFile, "--quiet"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if got := os.Getenv("ADOC_TEST_FROM_FILE"); got != "loaded" {
		t.Fatalf("ADOC_TEST_FROM_FILE = %q", got)
	}

	root = newRootCmd()
	root.SetArgs([]string{"version", "--env-file", envFile + ".missing"})

	var cliErr *clierrors.CLIError
	if err := root.Execute(); !clierrors.As(err, &cliErr) || cliErr.Code != clierrors.ExitUsage {
		t.Fatalf("missing env file error = %v", err)
	}
}

func TestWrapNamedPostRunCleanup_ErrorIncludesCleanupName(t *testing.T) {
	wrapped := wrapNamedPostRunCleanup(nil, "telemetry resources", func() error {
		return errors.New("boom")
	})

	err := wrapped(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "cleanup telemetry resources") {
		t.Fatalf("unexpected error: %v", err)
	}

	err = wrapPostRunCleanup(nil, func() error { return errors.New("boom") })(&cobra.Command{}, nil)
	if err == nil || !strings.Contains(err.Error(), "cleanup logger resources") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWrapNamedPostRunCleanup_CleansUpWhenPostRunFails(t *testing.T) {
	cleanupCalled := false
	postErr := errors.New("post-run failed")
	wrapped := wrapNamedPostRunCleanup(
		func(*cobra.Command, []string) error {
			return postErr
		},
		"telemetry resources",
		func() error {
			cleanupCalled = true
			return nil
		},
	)

	if err := wrapped(&cobra.Command{}, nil); !errors.Is(err, postErr) {
		t.Fatalf("expected post-run error, got %v", err)
	}

	if !cleanupCalled {
		t.Fatal("expected cleanup to be called when post-run fails")
	}
}
