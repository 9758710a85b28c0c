package adapter

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/m-mizutani/burrow/pkg/utils/logging"
	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

const defaultMaxRetries = 3

// retryable reports whether err is a rate limit or a server side failure
func retryable(err error) bool {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return retryableStatus(oaiErr.HTTPStatusCode)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return retryableStatus(reqErr.HTTPStatusCode)
	}
	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		return retryableStatus(genaiErr.Code)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// withRetry runs op until it succeeds, returns a non retryable error, or exhausts maxRetries
func withRetry[T any](ctx context.Context, maxRetries int, name string, op func() (T, error)) (T, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = time.Minute

	var b backoff.BackOff = policy
	if maxRetries >= 0 {
		b = backoff.WithMaxRetries(b, uint64(maxRetries))
	}
	b = backoff.WithContext(b, ctx)

	var result T
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		v, err := op()
		if err == nil {
			result = v
			return nil
		}
		if !retryable(err) {
			return backoff.Permanent(err)
		}
		logging.From(ctx).Warn("retrying LLM API call", "op", name, "attempt", attempt, "error", err)
		return err
	}, b)
	if err != nil {
		var zero T
		return zero, goerr.Wrap(err, "LLM API call failed", goerr.V("op", name), goerr.V("attempts", attempt))
	}
	return result, nil
}

// IsContextLengthError reports whether err means the request exceeded the model's input limit
func IsContextLengthError(err error) bool {
	var oaiErr *openai.APIError
	if errors.As(err, &oaiErr) {
		return oaiErr.Code == "context_length_exceeded"
	}

	var genaiErr genai.APIError
	if errors.As(err, &genaiErr) {
		// e.g. "The input token count (2500030) exceeds the maximum number of tokens allowed (1048576)."
		return genaiErr.Code == http.StatusBadRequest &&
			strings.HasPrefix(genaiErr.Message, "The input token count (") &&
			strings.Contains(genaiErr.Message, ") exceeds the maximum number of tokens allowed (")
	}
	return false
}
