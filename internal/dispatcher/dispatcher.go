package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/email-scheduler/internal/metrics"
)

var (
	ErrNoHealthy   = errors.New("no healthy providers")
	ErrNoProviders = errors.New("no providers configured")
)

// DeliveryError is returned for every failed Send. Provider is empty when no
// provider could be acquired.
type DeliveryError struct {
	Provider string
	Err      error
}

func (e *DeliveryError) Error() string {
	if e.Provider == "" {
		return "delivery failed: " + e.Err.Error()
	}
	return fmt.Sprintf("delivery via %s failed: %v", e.Provider, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Receipt describes a successful (or attempted) delivery.
type Receipt struct {
	Provider string
	Duration time.Duration
}

type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	timeout           time.Duration
}

// NewDispatcher builds a dispatcher bounded by timeout per Send.
func NewDispatcher(provs []Provider, timeout time.Duration) (*Dispatcher, error) {
	if len(provs) == 0 {
		return nil, ErrNoProviders
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Dispatcher{providers: provs, timeout: timeout}, nil
}

func (d *Dispatcher) healthy() []Provider {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}
	return healthy
}

// acquire walks the healthy providers round-robin and returns the first one whose
// breaker admits the call. Nothing has been sent at this point, so moving on to the
// next provider cannot duplicate a message.
func (d *Dispatcher) acquire() (Provider, error) {
	healthy := d.healthy()
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	start := d.roundRobinCounter.Add(1) - 1
	for i := 0; i < len(healthy); i++ {
		p := healthy[int((start+uint64(i))%uint64(len(healthy)))]
		if p.Acquire() {
			return p, nil
		}
	}

	return nil, ErrNoHealthy
}

// Send makes exactly one delivery attempt. Any failure, including the timeout,
// comes back as a *DeliveryError; the caller does not retry.
func (d *Dispatcher) Send(ctx context.Context, msg OutboundEmail) (Receipt, error) {
	p, err := d.acquire()
	if err != nil {
		return Receipt{}, &DeliveryError{Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	start := time.Now()
	err = p.Send(ctx, msg)
	rcpt := Receipt{Provider: p.Name(), Duration: time.Since(start)}

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ProviderSendSeconds.WithLabelValues(p.Name(), result).Observe(rcpt.Duration.Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		return rcpt, &DeliveryError{Provider: p.Name(), Err: err}
	}

	return rcpt, nil
}

// ProviderStatus is a snapshot of one provider for status endpoints.
type ProviderStatus struct {
	Name  string `json:"name"`
	Ready bool   `json:"ready"`
}

func (d *Dispatcher) Providers() []ProviderStatus {
	out := make([]ProviderStatus, 0, len(d.providers))
	for _, p := range d.providers {
		out = append(out, ProviderStatus{Name: p.Name(), Ready: p.Ready()})
	}
	return out
}
