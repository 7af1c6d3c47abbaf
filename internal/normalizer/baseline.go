package normalizer

import (
	"math"
	"sync"

	"github.com/opsignal/responder/internal/models"
)

// baselineTracker keeps a bounded window of severity samples per
// (source, event type) pair and flags samples that deviate strongly from the
// historical mean. With too few samples it stays silent.
type baselineTracker struct {
	mu      sync.Mutex
	maxSize int
	series  map[string][]float64
}

const baselineMinSamples = 8

func newBaselineTracker(maxSize int) *baselineTracker {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &baselineTracker{maxSize: maxSize, series: make(map[string][]float64)}
}

func baselineKey(source models.SignalSource, eventType string) string {
	return string(source) + "|" + eventType
}

func (b *baselineTracker) observe(source models.SignalSource, eventType string, severity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := baselineKey(source, eventType)
	samples := append(b.series[key], severity)
	if len(samples) > b.maxSize {
		copy(samples[0:], samples[1:])
		samples = samples[:b.maxSize]
	}
	b.series[key] = samples
}

// deviates reports whether severity sits more than three standard deviations
// above the historical mean for this source and event type.
func (b *baselineTracker) deviates(source models.SignalSource, eventType string, severity float64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	samples := b.series[baselineKey(source, eventType)]
	if len(samples) < baselineMinSamples {
		return false
	}

	mean := 0.0
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))

	variance := 0.0
	for _, s := range samples {
		variance += math.Pow(s-mean, 2)
	}
	variance /= float64(len(samples))
	stdDev := math.Sqrt(variance)
	if stdDev < 0.01 {
		stdDev = 0.01
	}

	return (severity-mean)/stdDev >= 3
}
