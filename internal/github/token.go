package github

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"time"
)

type TokenSource string

const (
	TokenSourceExplicit TokenSource = "explicit"
	TokenSourceEnv      TokenSource = "env"
	TokenSourceCLI      TokenSource = "gh"
	TokenSourceNone     TokenSource = "none"
)

// tokenEnvVars are checked in order.
var tokenEnvVars = []string{"GITHUB_TOKEN", "GH_TOKEN"}

// ghTokenCommand runs `gh auth token`; replaced in tests.
var ghTokenCommand = func(ctx context.Context) ([]byte, error) {
	if _, err := exec.LookPath("gh"); err != nil {
		return nil, errGHMissing
	}
	cmd := exec.CommandContext(ctx, "gh", "auth", "token", "-h", "github.com")
	env := make([]string, 0, len(os.Environ())+1)
	for _, entry := range os.Environ() {
		if !strings.HasPrefix(entry, "GH_PAGER=") {
			env = append(env, entry)
		}
	}
	cmd.Env = append(env, "GH_PAGER=cat")
	return cmd.Output()
}

var errGHMissing = errors.New("gh not installed")

// ResolveToken finds a token for reading documentation repositories: the
// provided value, then GITHUB_TOKEN / GH_TOKEN, then the GitHub CLI. Public
// repositories work without one, so no token is not an error.
func ResolveToken(ctx context.Context, provided string) (string, TokenSource, error) {
	if tok := strings.TrimSpace(provided); tok != "" {
		return tok, TokenSourceExplicit, nil
	}
	for _, name := range tokenEnvVars {
		if tok := strings.TrimSpace(os.Getenv(name)); tok != "" {
			return tok, TokenSourceEnv, nil
		}
	}

	cmdCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
	}
	out, err := ghTokenCommand(cmdCtx)
	if err != nil {
		if cmdCtx.Err() != nil {
			return "", TokenSourceNone, cmdCtx.Err()
		}
		// gh missing or logged out; the raw output is not surfaced.
		return "", TokenSourceNone, nil
	}

	tok := strings.TrimSpace(string(out))
	if tok == "" {
		return "", TokenSourceNone, nil
	}
	if strings.ContainsAny(tok, " \t\n\r") {
		return "", TokenSourceNone, errors.New("invalid token returned by gh: contains whitespace")
	}
	return tok, TokenSourceCLI, nil
}
