// Package retry decides whether a failed upstream attempt is worth repeating
// and how long to wait before the next one.
//
// Delays follow baseDelay * 2^attempt with ±50% multiplicative jitter, so
// concurrent callers do not hammer the provider in lockstep after an outage.
package retry

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/akarwowska/altgen/internal/domain"
)

const (
	// DefaultMaxRetries bounds retries beyond the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseDelay is the pre-jitter delay of the first retry.
	DefaultBaseDelay = time.Second
)

// Policy configures the attempt loop for one client.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
	}
}

// MaxTries is the total attempt budget: the first attempt plus retries.
func (p Policy) MaxTries() uint {
	if p.MaxRetries < 0 {
		return 1
	}
	return uint(p.MaxRetries) + 1
}

// NewBackOff builds the exponential schedule for one SendRequest call.
// RandomizationFactor 0.5 with multiplier 2 keeps delay(n) inside
// [base*2^n*0.5, base*2^n*1.5].
func (p Policy) NewBackOff() *backoff.ExponentialBackOff {
	base := p.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0.5
	b.MaxInterval = 5 * time.Minute
	return b
}

// Retryable classifies a failed attempt.
//
// Rate-limit, authentication, validation and parse errors are terminal:
// waiting does not refill a window mid-flight, credentials will not change,
// and a malformed payload or violated response contract would just repeat.
// Provider errors with a 4xx status other than 408 are client errors and
// terminal too. Everything else, including plain network errors, is worth
// another attempt.
func Retryable(err error) bool {
	derr, ok := domain.AsError(err)
	if !ok {
		return true
	}

	switch derr.Kind {
	case domain.KindRateLimit, domain.KindAuthentication, domain.KindValidation, domain.KindParse:
		return false
	case domain.KindProvider:
		s := derr.HTTPStatus
		if s >= 400 && s < 500 && s != http.StatusRequestTimeout {
			return false
		}
		return true
	default:
		return true
	}
}
