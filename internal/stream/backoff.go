package stream

import "time"

const (
	DefaultBackoffInitial = 5 * time.Second
	DefaultBackoffMax     = 300 * time.Second
)

// Backoff yields reconnect delays: Initial, doubling on every call, capped
// at Max. Reset starts over from Initial.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration

	next time.Duration
}

func NewBackoff(initial, maxDelay time.Duration) *Backoff {
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	if maxDelay < initial {
		maxDelay = initial
	}
	return &Backoff{Initial: initial, Max: maxDelay, next: initial}
}

// Next returns the delay to wait now and doubles the following one.
func (b *Backoff) Next() time.Duration {
	if b.next <= 0 {
		b.next = b.Initial
	}
	d := b.next
	b.next = min(b.next*2, b.Max)
	return d
}

func (b *Backoff) Reset() { b.next = b.Initial }
