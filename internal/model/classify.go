package model

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"qresponder/internal/pipeline"
)

// classify maps a provider error onto the pipeline taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	return pipeline.Classify(kindOf(err), err)
}

func kindOf(err error) pipeline.ErrorKind {
	if errors.Is(err, context.Canceled) {
		return pipeline.KindAbortedByShutdown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.KindTransientNetwork
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.HTTPStatusCode, apiErr.Type, fmt.Sprint(apiErr.Code), apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		body := string(reqErr.Body)
		return kindForStatus(reqErr.HTTPStatusCode, "", "", body)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return pipeline.KindTransientNetwork
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return pipeline.KindTransientNetwork
	}
	return pipeline.KindUnknown
}

func kindForStatus(status int, typ, code, message string) pipeline.ErrorKind {
	detail := strings.ToLower(typ + " " + code + " " + message)

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return pipeline.KindAuthFailed
	case status == http.StatusTooManyRequests:
		if strings.Contains(detail, "insufficient_quota") || strings.Contains(detail, "billing") {
			return pipeline.KindQuotaExhausted
		}
		return pipeline.KindRateLimited
	case strings.Contains(detail, "content_filter"), strings.Contains(detail, "safety"):
		return pipeline.KindContentRejected
	case status == http.StatusBadRequest, status == http.StatusRequestEntityTooLarge, status == http.StatusUnprocessableEntity:
		if strings.Contains(detail, "api key") || strings.Contains(detail, "api_key") {
			return pipeline.KindAuthFailed
		}
		return pipeline.KindContentRejected
	case status == http.StatusRequestTimeout, status == http.StatusConflict, status >= 500:
		return pipeline.KindTransientNetwork
	default:
		return pipeline.KindUnknown
	}
}
