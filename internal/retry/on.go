package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/xerrors"
)

// On selects which callback failures are worth another attempt. The rule names follow
// envoy's x-envoy-retry-on header.
type On struct {
	serverError    bool
	gatewayError   bool
	connectFailure bool
	retriable4xx   bool
	statusCodes    []int
}

func NewDefaultRetryOn() *On {
	return &On{
		gatewayError:   true,
		connectFailure: true,
		retriable4xx:   true,
	}
}

var ErrInvalidRetryOn = errors.New("invalid retry-on rule")

// NewRetryOnFromString parses a comma-separated rule list such as "5xx,connect-failure,429".
func NewRetryOnFromString(s string) (*On, error) {
	o := &On{}
	for _, rule := range strings.Split(s, ",") {
		rule = strings.TrimSpace(rule)
		switch rule {
		case "":
		case "5xx":
			o.serverError = true
		case "gateway-error":
			o.gatewayError = true
		case "connect-failure":
			o.connectFailure = true
		case "retriable-4xx":
			o.retriable4xx = true
		default:
			statusCode, err := strconv.Atoi(rule)
			if err != nil || statusCode < 100 || statusCode > 599 {
				return nil, xerrors.Errorf("%q: %w", rule, ErrInvalidRetryOn)
			}
			o.statusCodes = append(o.statusCodes, statusCode)
		}
	}
	return o, nil
}

// https://github.com/envoyproxy/envoy/blob/70d6ec1df6384118cf2fa2f02c0041edb76b2377/source/common/router/retry_state_impl.cc#L387
func (o *On) CheckResponse(response *http.Response) bool {
	code := response.StatusCode
	switch {
	case o.serverError && code >= 500 && code < 600:
		return true
	case o.gatewayError && code >= 502 && code < 505:
		return true
	case o.retriable4xx && code == http.StatusConflict:
		return true
	}

	for _, statusCode := range o.statusCodes {
		if statusCode == code {
			return true
		}
	}
	return false
}

// CheckError reports whether a transport error counts as a connect failure. Cancellation never does.
func (o *On) CheckError(err error) bool {
	if !o.connectFailure && !o.serverError {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return isConnectFailure(err)
}

func isConnectFailure(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	type temporary interface{ Temporary() bool }
	var terr temporary
	return errors.As(err, &terr) && terr.Temporary()
}
