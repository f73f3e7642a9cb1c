package lro

import (
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
)

// FinalStateVia selects which URL family supplies the authoritative
// final resource for POST-initiated operations.
type FinalStateVia string

const (
	FinalStateViaAzureAsyncOperation FinalStateVia = "azure-async-operation"
	FinalStateViaLocation            FinalStateVia = "location"
)

const defaultInterval = 30 * time.Second

// Options configures one polling session.
type Options struct {
	// FinalStateVia defaults to FinalStateViaAzureAsyncOperation.
	FinalStateVia FinalStateVia

	// Interval is the sleep between polls when the service does not
	// send a Retry-After header and no Backoff policy is supplied.
	Interval time.Duration

	// Backoff computes the sleep between polls absent a Retry-After
	// header. Defaults to a constant policy at Interval; callers can
	// supply e.g. backoff.NewExponentialBackOff to grow the delay. A
	// Retry-After header overrides the policy for that step and
	// resets it. Policies carry state, so one Backoff belongs to one
	// polling session.
	Backoff backoff.BackOff
}

// DefaultOptions returns session options, honoring the
// polling.interval and polling.final_state_via config keys when set.
func DefaultOptions() Options {
	opts := Options{
		FinalStateVia: FinalStateViaAzureAsyncOperation,
		Interval:      defaultInterval,
	}
	if viper.IsSet("polling.interval") {
		opts.Interval = viper.GetDuration("polling.interval")
	}
	if viper.IsSet("polling.final_state_via") {
		opts.FinalStateVia = FinalStateVia(viper.GetString("polling.final_state_via"))
	}
	return opts
}

func (o Options) validate() error {
	switch o.FinalStateVia {
	case FinalStateViaAzureAsyncOperation, FinalStateViaLocation:
	default:
		return fmt.Errorf("unknown final-state-via value %q", o.FinalStateVia)
	}
	if o.Interval <= 0 {
		return fmt.Errorf("polling interval must be positive, got %s", o.Interval)
	}
	return nil
}

// withDefaults fills zero values so a zero Options literal behaves
// like DefaultOptions without consulting config.
func (o Options) withDefaults() Options {
	if o.FinalStateVia == "" {
		o.FinalStateVia = FinalStateViaAzureAsyncOperation
	}
	if o.Interval == 0 {
		o.Interval = defaultInterval
	}
	if o.Backoff == nil {
		o.Backoff = backoff.NewConstantBackOff(o.Interval)
	}
	return o
}
