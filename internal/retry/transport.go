package retry

import (
	"context"
	"net/http"
)

// Transport retries requests according to RetryOn, sleeping as RetryStrategy dictates.
// Requests with a body must set GetBody so the body can be replayed.
type Transport struct {
	Base          http.RoundTripper
	RetryStrategy Strategy
	RetryOn       *On
}

type contextKey string

const retryCountContextKey contextKey = "retryCountKey"

func getRetryCount(ctx context.Context) uint {
	i, ok := ctx.Value(retryCountContextKey).(uint)
	if !ok {
		return 0
	}
	return i
}

func setRetryCount(ctx context.Context, retryCount uint) context.Context {
	return context.WithValue(ctx, retryCountContextKey, retryCount)
}

func (t *Transport) RoundTrip(request *http.Request) (*http.Response, error) {
	retryCount := getRetryCount(request.Context())
	sleep, exceeded := t.retryStrategy().Sleep(retryCount)

	response, err := t.base().RoundTrip(request)

	retry := false
	if !exceeded && t.RetryOn != nil {
		if err != nil {
			retry = t.RetryOn.CheckError(err)
		} else {
			retry = t.RetryOn.CheckResponse(response)
		}
	}
	if !retry {
		return response, err
	}

	if response != nil {
		response.Body.Close()
	}
	if err := wait(request.Context(), sleep); err != nil {
		return nil, err
	}

	next := request.Clone(setRetryCount(request.Context(), retryCount+1))
	if request.GetBody != nil {
		body, err := request.GetBody()
		if err != nil {
			return nil, err
		}
		next.Body = body
	}
	return t.RoundTrip(next)
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *Transport) retryStrategy() Strategy {
	if t.RetryStrategy != nil {
		return t.RetryStrategy
	}
	return NewNever()
}
