// Package auth stores the Azure DevOps personal access token (PAT).
//
// The PAT is looked up in this order:
//  1. Environment variable ADOC_PAT
//  2. OS keyring (macOS Keychain, Windows Credential Manager, Secret Service)
//  3. File fallback: <user config dir>/adoc/pat, for headless machines
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"

	"github.com/musher-dev/adoc/internal/paths"
)

const (
	keyringService = "adoc"
	keyringUser    = "pat"

	// EnvVar holds a PAT that overrides any stored one.
	EnvVar = "ADOC_PAT"
)

// CredentialSource indicates where the PAT was found.
type CredentialSource string

// Credential sources.
const (
	SourceEnv     CredentialSource = "environment variable"
	SourceKeyring CredentialSource = "keyring"
	SourceFile    CredentialSource = "credentials file"
	SourceNone    CredentialSource = ""
)

// ErrNoCredentials is returned by DeletePAT when nothing was stored.
var ErrNoCredentials = errors.New("no stored credentials found")

// PAT returns the personal access token and where it came from.
func PAT() (CredentialSource, string) {
	if pat := strings.TrimSpace(os.Getenv(EnvVar)); pat != "" {
		return SourceEnv, pat
	}

	if pat, err := keyring.Get(keyringService, keyringUser); err == nil && strings.TrimSpace(pat) != "" {
		return SourceKeyring, strings.TrimSpace(pat)
	}

	if pat := readCredentialsFile(); pat != "" {
		return SourceFile, pat
	}

	return SourceNone, ""
}

// StorePAT saves pat in the keyring, falling back to the credentials file
// when no keyring is available. It reports where the PAT ended up.
func StorePAT(pat string) (CredentialSource, error) {
	pat = strings.TrimSpace(pat)
	if pat == "" {
		return SourceNone, fmt.Errorf("personal access token is empty")
	}

	if err := keyring.Set(keyringService, keyringUser, pat); err == nil {
		return SourceKeyring, nil
	}

	if err := writeCredentialsFile(pat); err != nil {
		return SourceNone, err
	}

	return SourceFile, nil
}

// DeletePAT removes the stored PAT from the keyring and the file fallback.
func DeletePAT() error {
	keyringErr := keyring.Delete(keyringService, keyringUser)
	fileErr := deleteCredentialsFile()

	if keyringErr != nil && fileErr != nil {
		return ErrNoCredentials
	}

	return nil
}

// Mask shortens a PAT for display, keeping the last four characters.
func Mask(pat string) string {
	if len(pat) <= 4 {
		return strings.Repeat("*", len(pat))
	}

	return strings.Repeat("*", 8) + pat[len(pat)-4:]
}

func credentialsFilePath() string {
	path, err := paths.CredentialsFile()
	if err != nil {
		return ""
	}

	return filepath.Clean(path)
}

func readCredentialsFile() string {
	path := credentialsFilePath()
	if path == "" {
		return ""
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path from controlled config directory
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(data))
}

func writeCredentialsFile(pat string) error {
	path := credentialsFilePath()
	if path == "" {
		return fmt.Errorf("could not determine config directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(pat+"\n"), 0o600); err != nil {
		return fmt.Errorf("write credentials file: %w", err)
	}

	return nil
}

func deleteCredentialsFile() error {
	path := credentialsFilePath()
	if path == "" {
		return fmt.Errorf("could not determine config directory")
	}

	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("credentials file not found")
		}

		return fmt.Errorf("remove credentials file: %w", err)
	}

	return nil
}
