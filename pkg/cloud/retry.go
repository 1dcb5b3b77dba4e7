package cloud

import (
	"context"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/cloudwarden/cloudwarden/pkg/engine"
)

// Throttling retry budget. Identity staleness has its own one-shot retry in
// pkg/identity; everything here covers rate limiting only.
const (
	maxThrottleRetries     = 3
	initialThrottleBackoff = 500 * time.Millisecond
)

// DoWithRetry issues a request, retrying throttled calls with jittered
// exponential backoff up to the retry budget. Any other failure returns
// immediately. Exceeding the budget surfaces the last throttling error.
func (c *Client) DoWithRetry(ctx context.Context, service, method, path string, query url.Values, body any) (*Response, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialThrottleBackoff

	var resp *Response
	op := func() error {
		var err error
		resp, err = c.Do(ctx, service, method, path, query, body)
		if err == nil {
			return nil
		}
		if engine.IsThrottled(err) {
			c.logger.Warn().
				Str("service", service).
				Str("path", path).
				Msg("Throttled, backing off")
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxThrottleRetries), ctx))
	if err != nil {
		return nil, err
	}
	return resp, nil
}
