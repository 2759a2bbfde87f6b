// Package ratelimit gates outbound completion requests against two sliding
// windows at once: requests-per-minute and requests-per-hour.
// Supports both in-memory (single instance) and Redis (distributed) backends.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/akarwowska/altgen/internal/domain"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour
)

// Settings bounds both windows. Zero or negative values are invalid.
type Settings struct {
	MaxPerMinute int
	MaxPerHour   int
}

func DefaultSettings() Settings {
	return Settings{
		MaxPerMinute: 60,
		MaxPerHour:   3600,
	}
}

func (s Settings) Validate() error {
	var fields []string
	if s.MaxPerMinute <= 0 {
		fields = append(fields, "MaxPerMinute: must be a positive integer")
	}
	if s.MaxPerHour <= 0 {
		fields = append(fields, "MaxPerHour: must be a positive integer")
	}
	if len(fields) > 0 {
		return domain.NewValidationError("invalid rate limit settings", fields...)
	}
	return nil
}

// Status reports remaining capacity after pruning stale entries.
type Status struct {
	MinuteRemaining int
	HourRemaining   int
	MinuteResetAt   time.Time
	HourResetAt     time.Time
}

// Limiter admits or rejects an outbound attempt. Acquire prunes both windows,
// checks minute then hour, and records the attempt only when admitted; a
// rejection carries a rate-limit error with the seconds left until capacity
// returns. Status prunes but never records.
type Limiter interface {
	Acquire(ctx context.Context) error
	Status(ctx context.Context) (Status, error)
}

// SlidingWindow is the in-memory Limiter. State lives for the process
// lifetime and is shared by every concurrent caller on the instance, so the
// whole prune+check+record sequence runs under one mutex.
type SlidingWindow struct {
	mu       sync.Mutex
	settings Settings
	minute   []time.Time
	hour     []time.Time
	now      func() time.Time
}

func NewSlidingWindow(settings Settings) (*SlidingWindow, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	return &SlidingWindow{
		settings: settings,
		now:      time.Now,
	}, nil
}

func (w *SlidingWindow) Acquire(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	if len(w.minute) >= w.settings.MaxPerMinute {
		return rejectMinute(waitSeconds(w.minute[0], minuteWindow, now))
	}

	if len(w.hour) >= w.settings.MaxPerHour {
		return rejectHour(waitSeconds(w.hour[0], hourWindow, now))
	}

	w.minute = append(w.minute, now)
	w.hour = append(w.hour, now)
	return nil
}

func (w *SlidingWindow) Status(ctx context.Context) (Status, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.prune(now)

	st := Status{
		MinuteRemaining: clamp(w.settings.MaxPerMinute - len(w.minute)),
		HourRemaining:   clamp(w.settings.MaxPerHour - len(w.hour)),
		MinuteResetAt:   now,
		HourResetAt:     now,
	}
	if len(w.minute) > 0 {
		st.MinuteResetAt = w.minute[0].Add(minuteWindow)
	}
	if len(w.hour) > 0 {
		st.HourResetAt = w.hour[0].Add(hourWindow)
	}
	return st, nil
}

// prune drops entries older than each window. Timestamps are appended in
// order, so both slices stay sorted and a prefix cut is enough.
func (w *SlidingWindow) prune(now time.Time) {
	w.minute = cutBefore(w.minute, now.Add(-minuteWindow))
	w.hour = cutBefore(w.hour, now.Add(-hourWindow))
}

func cutBefore(entries []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(entries) && !entries[i].After(cutoff) {
		i++
	}
	return entries[i:]
}

func waitSeconds(oldest time.Time, window time.Duration, now time.Time) int {
	wait := int(math.Ceil(oldest.Add(window).Sub(now).Seconds()))
	if wait < 0 {
		wait = 0
	}
	return wait
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func rejectMinute(wait int) error {
	return domain.NewRateLimitError(
		fmt.Sprintf("rate limit exceeded, please wait %d seconds before trying again", wait), wait)
}

func rejectHour(wait int) error {
	return domain.NewRateLimitError(
		fmt.Sprintf("hourly rate limit exceeded, please wait %dm%ds before trying again", wait/60, wait%60), wait)
}
