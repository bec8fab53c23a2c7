package sender

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/speedwagon-io/vmc/internal/config"
)

const defaultMultiplier = 2.0

// Backoff computes the pause between retries. It is shared by the MQTT
// publish loop and the buffered resend loop of the collector.
type Backoff struct {
	base    time.Duration
	ceiling time.Duration
	factor  float64
	jitter  float64
}

func NewBackoff(cfg config.RetryConfig) *Backoff {
	b := &Backoff{
		base:    cfg.InitialDelay,
		ceiling: max(cfg.MaxDelay, cfg.InitialDelay),
		factor:  cfg.Multiplier,
		jitter:  min(max(cfg.Jitter, 0), 1),
	}
	if b.factor < 1 {
		b.factor = defaultMultiplier
	}
	return b
}

// Delay returns the wait after the given number of consecutive failures.
// Zero failures yields the base delay without jitter.
func (b *Backoff) Delay(failures int) time.Duration {
	if failures <= 0 || b.base <= 0 {
		return b.base
	}

	d := float64(b.base) * math.Pow(b.factor, float64(failures))
	if math.IsInf(d, 1) || d > float64(b.ceiling) {
		d = float64(b.ceiling)
	}

	if b.jitter > 0 {
		d += d * b.jitter * (2*rand.Float64() - 1)
	}

	return time.Duration(min(d, float64(b.ceiling)))
}
