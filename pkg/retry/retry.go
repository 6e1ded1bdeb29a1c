// Package retry decides which proxyd client requests may be resent and
// paces the attempts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Policy bounds how a request is resent
type Policy struct {
	Attempts int           // total sends, the first included
	Base     time.Duration // delay ceiling before the first resend
	Cap      time.Duration // delay ceiling for every later resend
}

// DefaultPolicy is what the client uses unless told otherwise
func DefaultPolicy() Policy {
	return Policy{
		Attempts: 4,
		Base:     200 * time.Millisecond,
		Cap:      5 * time.Second,
	}
}

// Idempotent reports whether a request with method may be sent more than
// once. Anything that can run a batch is excluded.
func Idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

// RetryableStatus reports gateway failures that say nothing about whether
// the server handled the request.
func RetryableStatus(code int) bool {
	switch code {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Transient reports whether a transport error is worth another attempt
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF)
}

// Delay returns a random wait before resend n (1 for the first resend). The
// ceiling doubles from Base up to Cap.
func (p Policy) Delay(n int) time.Duration {
	ceiling := p.Base
	for i := 1; i < n && ceiling < p.Cap; i++ {
		ceiling *= 2
	}
	if ceiling > p.Cap {
		ceiling = p.Cap
	}
	if ceiling <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(ceiling) + 1))
}

// Send calls op until it succeeds, reports that another attempt is
// pointless, or the policy runs out. op receives the 1-based attempt number.
func Send(ctx context.Context, p Policy, op func(attempt int) (again bool, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for attempt := 1; ; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("request cancelled: %w", cerr)
		}
		var again bool
		if again, err = op(attempt); err == nil || !again {
			return err
		}
		if attempt == attempts {
			return fmt.Errorf("giving up after %d attempts: %w", attempts, err)
		}

		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("request cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}
