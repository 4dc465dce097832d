package scm

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds retry behavior for code-host API calls
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns the policy used when configuration does not
// override it: three attempts with exponential backoff capped at two seconds.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    2 * time.Second,
	}
}

// WithRetry runs fn under the policy, retrying only errors that Retryable
// reports as transient. Permanent failures and context cancellation return
// immediately.
func WithRetry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 1 {
		return fn(ctx)
	}

	backoff := retry.NewExponential(policy.BaseDelay)
	backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(policy.MaxAttempts-1), backoff)

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if Retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

// DoRequest sends req through client, retrying transport failures, 429s, and
// 5xx responses under the policy. Request bodies are rewound between attempts
// via GetBody, which http.NewRequest sets for in-memory readers; a request
// whose body cannot be rebuilt gets a single attempt. A Retry-After header on
// the response is honored up to the policy's MaxDelay. When attempts run out
// on a retryable status the last response is returned rather than an error,
// so the caller's status handling applies either way; the caller owns closing
// the body of any returned response.
func DoRequest(client *http.Client, policy RetryPolicy, req *http.Request) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}
	if policy.MaxAttempts < 1 || (req.Body != nil && req.GetBody == nil) {
		policy.MaxAttempts = 1
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultRetryPolicy().MaxDelay
	}
	if policy.MaxAttempts == 1 {
		return client.Do(req)
	}

	backoff := retry.NewExponential(policy.BaseDelay)
	backoff = retry.WithCappedDuration(policy.MaxDelay, backoff)
	backoff = retry.WithMaxRetries(uint64(policy.MaxAttempts-1), backoff)

	var resp *http.Response
	first := true
	err := retry.Do(req.Context(), backoff, func(ctx context.Context) error {
		if resp != nil {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			resp = nil
		}
		if !first && req.Body != nil {
			body, err := req.GetBody()
			if err != nil {
				return err
			}
			req.Body = body
		}
		first = false

		r, err := client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		resp = r
		if r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500 {
			waitRetryAfter(ctx, r.Header.Get("Retry-After"), policy.MaxDelay)
			return retry.RetryableError(NewAPIError(r.StatusCode, "", nil))
		}
		return nil
	})
	if resp != nil {
		return resp, nil
	}
	return nil, err
}

// waitRetryAfter blocks for the server-requested delay. The wait is capped so
// a hostile or clock-skewed header cannot stall the pipeline.
func waitRetryAfter(ctx context.Context, header string, limit time.Duration) {
	if header == "" {
		return
	}
	var d time.Duration
	if secs, err := strconv.Atoi(header); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(header); err == nil {
		d = time.Until(at)
	}
	if d <= 0 {
		return
	}
	if d > limit {
		d = limit
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
