package syncer

import (
	"math/rand"
	"time"
)

// Backoff computes retry delays: exponential growth from Base, capped at Cap,
// with equal jitter so a fleet of devices reconnecting together does not
// hammer the remote in lockstep.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// DefaultBackoff is base 2s, cap 5 minutes.
func DefaultBackoff() Backoff {
	return Backoff{Base: 2 * time.Second, Cap: 5 * time.Minute}
}

// Delay returns the delay before attempt n (zero-based). The result is in
// [d/2, d) where d = min(Base * 2^n, Cap).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Cap
	// Guard the shift: past ~30 doublings any base has blown through the cap.
	if attempt < 30 {
		if scaled := b.Base << uint(attempt); scaled > 0 && scaled < b.Cap {
			d = scaled
		}
	}
	half := d / 2
	if half <= 0 {
		return d
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}
