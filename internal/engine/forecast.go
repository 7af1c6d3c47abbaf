package engine

import (
	"context"
	"fmt"
	"math"

	"github.com/opsignal/responder/internal/models"
)

// ForecastEngine projects where an incident is heading from the severity
// trend of its signal series. A worsening trend raises both confidence and
// the urgency of the suggested mitigation.
type ForecastEngine struct{}

// NewForecastEngine constructs a ForecastEngine.
func NewForecastEngine() *ForecastEngine {
	return &ForecastEngine{}
}

func (e *ForecastEngine) Kind() Kind {
	return KindForecast
}

// Analyze fits the severity series with mean, deviation, and a first/last
// slope. It needs at least two samples to say anything about a trend.
func (e *ForecastEngine) Analyze(ctx context.Context, incident *models.Incident, signals []*models.Signal) (PartialVerdict, error) {
	if len(signals) < 2 {
		return PartialVerdict{}, fmt.Errorf("series too short to forecast: %w", models.ErrEngineUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return PartialVerdict{}, err
	}

	series := make([]float64, 0, len(signals))
	anomalies := 0
	for _, sig := range signals {
		series = append(series, sig.Severity)
		if sig.IsAnomaly {
			anomalies++
		}
	}

	mean := 0.0
	for _, v := range series {
		mean += v
	}
	mean /= float64(len(series))

	variance := 0.0
	for _, v := range series {
		variance += math.Pow(v-mean, 2)
	}
	variance /= float64(len(series))
	stdDev := math.Sqrt(variance)

	slope := series[len(series)-1] - series[0]
	anomalyRatio := float64(anomalies) / float64(len(series))

	confidence := 0.3 + 0.3*mean + 0.2*anomalyRatio
	if slope > 0.1 {
		confidence += 0.15
	}
	if confidence > 0.9 {
		confidence = 0.9
	}

	cause := "Severity stable; likely an isolated fault"
	if slope > 0.1 {
		cause = "Escalating failure trend across correlated signals"
	} else if stdDev > 0.25 {
		cause = "Unstable signal pattern suggesting an intermittent fault"
	}

	verdict := PartialVerdict{
		Engine:     KindForecast,
		RootCause:  cause,
		Confidence: confidence,
		Rationale: fmt.Sprintf("mean severity %.2f, slope %+.2f, %d/%d anomalous",
			mean, slope, anomalies, len(series)),
	}
	if slope > 0.1 || mean >= 0.7 {
		verdict.SuggestedActions = append(verdict.SuggestedActions, models.SuggestedAction{
			Type:        models.ActionNotify,
			Target:      actionTarget(models.ActionNotify, incident, signals),
			Description: "Escalate: incident severity is trending upward",
		})
	}
	verdict.SuggestedActions = append(verdict.SuggestedActions, models.SuggestedAction{
		Type:        models.ActionTicketCreate,
		Target:      actionTarget(models.ActionTicketCreate, incident, signals),
		Description: "Track investigation of " + incident.Title,
	})
	return verdict, nil
}
