// Package netutil implements the bounded reachability wait that gates the
// configuration phases on a freshly provisioned host.
package netutil

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"
)

// Defaults for WaitForReachable. The interval doubles as the per-attempt
// dial timeout; polling is fixed-interval, not exponential.
const (
	DefaultSSHPort     = 22
	DefaultMaxAttempts = 10
	DefaultInterval    = 10 * time.Second
	DefaultSettleDelay = 30 * time.Second
)

// DialFunc establishes a network connection. Injectable for tests.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// SleepFunc pauses between attempts. Injectable for tests.
type SleepFunc func(ctx context.Context, d time.Duration) error

// WaitOptions tunes the polling loop. Zero values fall back to the defaults
// above.
type WaitOptions struct {
	MaxAttempts int
	Interval    time.Duration
	SettleDelay time.Duration

	Dial  DialFunc
	Sleep SleepFunc
}

// ReadinessTimeoutError reports a host that never became reachable within the
// allotted attempts.
//
// nolint:revive // named to distinguish from plain timeouts in the workflow
type ReadinessTimeoutError struct {
	Address  string
	Attempts int
	Elapsed  time.Duration
}

// Error implements the error interface.
func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("host %s not reachable after %d attempts (%s elapsed)",
		e.Address, e.Attempts, e.Elapsed.Round(time.Second))
}

// Address joins a host and port for dialing.
func Address(host string, port int) string {
	return net.JoinHostPort(host, fmt.Sprintf("%d", port))
}

// WaitForReachable polls address with a TCP connect until it answers, then
// sleeps once for the settle delay so host key material and background init
// can finish before anything logs in. The loop is strictly sequential: dial,
// and on failure sleep one interval before the next attempt. After
// MaxAttempts consecutive failures it returns a ReadinessTimeoutError
// carrying the total elapsed wait.
func WaitForReachable(ctx context.Context, address string, opts WaitOptions) error {
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	if opts.SettleDelay == 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Dial == nil {
		dialer := &net.Dialer{Timeout: opts.Interval}
		opts.Dial = dialer.DialContext
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}

	start := time.Now()

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		conn, err := opts.Dial(ctx, "tcp", address)
		if err == nil {
			_ = conn.Close()
			log.Info().
				Str("address", address).
				Int("attempt", attempt).
				Dur("settle_delay", opts.SettleDelay).
				Msg("host reachable, settling")
			if err := opts.Sleep(ctx, opts.SettleDelay); err != nil {
				return err
			}
			return nil
		}

		log.Debug().
			Str("address", address).
			Int("attempt", attempt).
			Int("max_attempts", opts.MaxAttempts).
			Err(err).
			Msg("host not reachable yet")

		if attempt < opts.MaxAttempts {
			if err := opts.Sleep(ctx, opts.Interval); err != nil {
				return err
			}
		}
	}

	return &ReadinessTimeoutError{
		Address:  address,
		Attempts: opts.MaxAttempts,
		Elapsed:  time.Since(start),
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
