package crypto

import (
	"context"
	"fmt"

	"github.com/creachadair/getpass"
)

// TerminalPrompt returns a PromptFunc that asks for a passphrase at the
// controlling terminal with echo disabled. It is a convenience for hosts
// that have no UI of their own to supply via vault.Config.Prompt; it
// ignores ctx cancellation, matching getpass's own blocking behavior.
func TerminalPrompt(prompt string) PromptFunc {
	if prompt == "" {
		prompt = "Application passphrase: "
	}
	return func(context.Context) (string, error) {
		pass, err := getpass.Prompt(prompt)
		if err != nil {
			return "", fmt.Errorf("crypto: read passphrase: %w", err)
		}
		return pass, nil
	}
}
