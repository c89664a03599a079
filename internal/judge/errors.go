package judge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/signalnine/arbiter/internal/errdefs"
)

// ErrUnparseable means the model answered but no judged category score
// could be extracted.
var ErrUnparseable = errors.New("judge output could not be parsed")

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests || code >= 500
}

// classify turns transport errors into TransientJudgeError when a retry may
// help. Authentication and malformed-request errors stay permanent.
func classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.HTTPStatusCode) {
			return &errdefs.TransientJudgeError{StatusCode: apiErr.HTTPStatusCode, Err: err}
		}
		return fmt.Errorf("judge rejected request (status %d): %w", apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if retryableStatus(reqErr.HTTPStatusCode) {
			return &errdefs.TransientJudgeError{StatusCode: reqErr.HTTPStatusCode, Err: err}
		}
		return fmt.Errorf("judge rejected request (status %d): %w", reqErr.HTTPStatusCode, err)
	}
	// An attempt timed out.
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil {
		return &errdefs.TransientJudgeError{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return &errdefs.TransientJudgeError{Err: err}
	}
	return err
}

func isRetryable(err error) bool {
	return errdefs.IsTransient(err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded) && !errdefs.IsTransient(err):
		return "cancelled"
	case errdefs.IsTransient(err):
		return "transient"
	case errors.Is(err, ErrUnparseable):
		return "unparseable"
	default:
		return "rejected"
	}
}
