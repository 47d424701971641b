package github

import (
	"context"
	"errors"
	"testing"
)

func stubGH(t *testing.T, out string, err error) {
	t.Helper()
	prev := ghTokenCommand
	ghTokenCommand = func(ctx context.Context) ([]byte, error) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return []byte(out), err
	}
	t.Cleanup(func() { ghTokenCommand = prev })
}

func TestResolveToken(t *testing.T) {
	ctx := context.Background()

	t.Run("explicit wins", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "env-token")
		stubGH(t, "gh-token", nil)
		tok, src, err := ResolveToken(ctx, "  flag-token ")
		if err != nil || tok != "flag-token" || src != TokenSourceExplicit {
			t.Fatalf("got %q %q %v", tok, src, err)
		}
	})

	t.Run("GITHUB_TOKEN then GH_TOKEN", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "gh-env-token")
		stubGH(t, "gh-token", nil)
		tok, src, err := ResolveToken(ctx, "")
		if err != nil || tok != "gh-env-token" || src != TokenSourceEnv {
			t.Fatalf("got %q %q %v", tok, src, err)
		}
	})

	t.Run("gh cli", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "")
		stubGH(t, "gho_abc\n", nil)
		tok, src, err := ResolveToken(ctx, "")
		if err != nil || tok != "gho_abc" || src != TokenSourceCLI {
			t.Fatalf("got %q %q %v", tok, src, err)
		}
	})

	t.Run("gh failure means no token", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "")
		stubGH(t, "not logged in", errors.New("exit status 1"))
		tok, src, err := ResolveToken(ctx, "")
		if err != nil || tok != "" || src != TokenSourceNone {
			t.Fatalf("got %q %q %v", tok, src, err)
		}
	})

	t.Run("whitespace token rejected", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "")
		stubGH(t, "abc def", nil)
		if _, _, err := ResolveToken(ctx, ""); err == nil {
			t.Fatalf("expected error")
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		t.Setenv("GITHUB_TOKEN", "")
		t.Setenv("GH_TOKEN", "")
		stubGH(t, "", nil)
		cctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := ResolveToken(cctx, "")
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})
}
