package apiclient

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// SendFirst tries each request in order and returns the first successful
// response. Failures move on to the next attempt; when every attempt fails the
// joined errors are returned. Cancellation of ctx stops the sequence.
func (client *Client) SendFirst(ctx context.Context, attempts ...Request) (*Response, error) {
	if len(attempts) == 0 {
		return nil, fmt.Errorf("apiclient.send_first: %w", ErrNoAttempts)
	}
	var failures []error
	for index, attempt := range attempts {
		response, sendErr := client.Send(ctx, attempt)
		if sendErr == nil {
			return response, nil
		}
		failures = append(failures, sendErr)
		if ctxErr := ctx.Err(); ctxErr != nil {
			break
		}
		client.logger.Debug("fallback attempt failed",
			zap.String("code", "apiclient.send_first.attempt_failed"),
			zap.Int("attempt", index),
			zap.String("path", attempt.Path),
			zap.Error(sendErr))
	}
	return nil, fmt.Errorf("apiclient.send_first: %w", errors.Join(failures...))
}
