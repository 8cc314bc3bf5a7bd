// Package errors provides structured CLI error types for adoc.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// so every command reports failures the same way.
package errors

import (
	"errors"
	"fmt"
)

// Exit codes for CLI errors.
const (
	ExitSuccess = 0  // Successful execution
	ExitGeneral = 1  // General error
	ExitAuth    = 2  // Authentication error
	ExitNetwork = 3  // Network/API error
	ExitConfig  = 4  // Configuration error
	ExitUsage   = 64 // Command line usage error (BSD convention)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// NotConfigured returns an error when the organization or PAT is missing.
func NotConfigured(missing string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("No %s configured", missing),
		Hint:    "Run 'adoc config set organization <org>' and 'adoc auth login'",
		Code:    ExitConfig,
	}
}

// AuthFailed returns an error for a rejected personal access token.
func AuthFailed(cause error) *CLIError {
	return &CLIError{
		Message: "Authentication failed",
		Hint:    "Check the PAT scopes (Build: Read, Code: Read) or run 'adoc auth login'",
		Cause:   cause,
		Code:    ExitAuth,
	}
}

// CredentialsInvalid returns an error for an expired or invalid stored PAT.
func CredentialsInvalid(cause error) *CLIError {
	return &CLIError{
		Message: "Your PAT is invalid or has expired",
		Hint:    "Create a new PAT in Azure DevOps and run 'adoc auth login'",
		Cause:   cause,
		Code:    ExitAuth,
	}
}

// CannotPrompt returns an error when interactive prompts are unavailable.
func CannotPrompt(envVar string) *CLIError {
	return &CLIError{
		Message: "Cannot prompt in non-interactive mode",
		Hint:    fmt.Sprintf("Set %s environment variable instead", envVar),
		Code:    ExitUsage,
	}
}

// PATEmpty returns an error when the supplied PAT is empty.
func PATEmpty() *CLIError {
	return &CLIError{
		Message: "Personal access token cannot be empty",
		Hint:    "Enter a valid PAT or set the ADOC_PAT environment variable",
		Code:    ExitAuth,
	}
}

// ConfigFailed returns an error for configuration load or save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your adoc config directory or run 'adoc doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// CacheFailed returns an error when the local cache cannot be opened or read.
func CacheFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check permissions on the adoc state directory",
		Cause:   cause,
		Code:    ExitGeneral,
	}
}

// DaemonUnreachable returns an error when the control API cannot be reached.
func DaemonUnreachable(addr string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("adoc daemon not reachable at %s", addr),
		Hint:    "Start it with 'adoc daemon' or run a one-off cycle with 'adoc poll'",
		Cause:   cause,
		Code:    ExitNetwork,
	}
}

// InvalidBuildURL returns an error for a URL that is not a build results page.
func InvalidBuildURL(raw string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Not a build results URL: %s", raw),
		Hint:    "Expected https://dev.azure.com/<org>/<project>/_build/results?buildId=<id>",
		Code:    ExitUsage,
	}
}

// InvalidBuildID returns an error for a non-numeric or non-positive build id.
func InvalidBuildID(raw string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid build id: %s", raw),
		Hint:    "Build ids are positive integers, as shown in the buildId query parameter",
		Code:    ExitUsage,
	}
}
