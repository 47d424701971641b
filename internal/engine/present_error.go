package engine

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/go-github/v81/github"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/api/googleapi"
)

// presentError renders err for the console. Unless verbose, structured
// provider errors are reduced to status and message so request URLs (which
// may carry spreadsheet IDs or signed parameters) are not printed.
func presentError(err error, verbose bool) string {
	if err == nil {
		return "unknown error"
	}
	full := err.Error()
	if verbose {
		return full
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return providerFailure("Google API", gerr.Code, gerr.Message)
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) {
		code := 0
		if ghErr.Response != nil {
			code = ghErr.Response.StatusCode
		}
		return providerFailure("GitHub API", code, ghErr.Message)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return providerFailure("model", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var uerr *url.Error
	if errors.As(err, &uerr) && uerr.Err != nil {
		return fmt.Sprintf("%s request failed: %v", uerr.Op, uerr.Err)
	}

	return scrubRequest(full)
}

func providerFailure(provider string, code int, msg string) string {
	msg = strings.TrimSpace(msg)
	if msg == "" {
		msg = "request failed"
	}
	if code == 0 {
		return fmt.Sprintf("%s request failed: %s", provider, msg)
	}
	return fmt.Sprintf("%s request failed (%d %s): %s", provider, code, http.StatusText(code), msg)
}

// requestPrefix matches the "GET https://...: " and `Post "https://...": `
// prefixes that go-github and net/http put in front of error messages.
var requestPrefix = regexp.MustCompile(`(?i)\b(?:GET|POST|PUT|PATCH|DELETE) "?https?://[^\s"]+"?: `)

// scrubRequest drops request method and URL prefixes from an error string.
func scrubRequest(s string) string {
	s = strings.TrimSpace(s)
	out := strings.TrimSpace(requestPrefix.ReplaceAllString(s, ""))
	if out == "" {
		return "request failed"
	}
	return out
}
