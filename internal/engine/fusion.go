package engine

import (
	"sort"

	"github.com/opsignal/responder/internal/models"
)

// Weights holds the static per-engine reliability coefficients. They need not
// sum to 1: with more contributing engines the weighted sum grows, so engine
// count itself raises the fused confidence before saturation.
type Weights map[Kind]float64

// DefaultWeights mirrors the shipped configuration defaults.
func DefaultWeights() Weights {
	return Weights{
		KindRuleBased: 0.5,
		KindPattern:   0.55,
		KindForecast:  0.45,
		KindPlatform:  0.8,
	}
}

// Fuser deterministically combines partial verdicts into one decision.
type Fuser struct {
	weights Weights
}

// NewFuser constructs a Fuser; nil weights fall back to the defaults.
func NewFuser(weights Weights) *Fuser {
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	return &Fuser{weights: weights}
}

// Fuse is a pure function: identical verdict sets, in any order, produce an
// identical decision. The caller stamps identity and timing afterwards.
//
// Confidence is the weight-scaled sum saturated into [0,1]. The root cause is
// taken from the verdict with the highest individual confidence, ties broken
// by engine priority. Suggested actions are the union of all verdicts'
// actions, de-duplicated by (type, target) and ordered by the contributing
// verdict's confidence descending.
func (f *Fuser) Fuse(verdicts []PartialVerdict) models.Decision {
	if len(verdicts) == 0 {
		return models.Decision{}
	}

	ordered := append([]PartialVerdict(nil), verdicts...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Confidence != ordered[j].Confidence {
			return ordered[i].Confidence > ordered[j].Confidence
		}
		return Priority(ordered[i].Engine) > Priority(ordered[j].Engine)
	})

	sum := 0.0
	for _, v := range ordered {
		sum += f.weights[v.Engine] * clamp01(v.Confidence)
	}

	lead := ordered[0]

	return models.Decision{
		RootCause:        lead.RootCause,
		Confidence:       saturate(sum),
		SuggestedActions: mergeActions(ordered),
		RelatedIncidents: mergeRelated(ordered),
		EngineCount:      len(ordered),
	}
}

// saturate bounds the weighted sum into [0,1] without rescaling values that
// already fit: a sub-saturation sum is meaningful as-is.
func saturate(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// mergeActions unions suggested actions across verdicts. The ordered slice is
// already sorted by confidence then priority, so first occurrence wins and
// output order is the required ranking.
func mergeActions(ordered []PartialVerdict) []models.SuggestedAction {
	seen := make(map[string]struct{})
	var merged []models.SuggestedAction
	for _, v := range ordered {
		for _, action := range v.SuggestedActions {
			key := action.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, action)
		}
	}
	return merged
}

func mergeRelated(ordered []PartialVerdict) []string {
	seen := make(map[string]struct{})
	var merged []string
	for _, v := range ordered {
		for _, id := range v.RelatedIncidents {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			merged = append(merged, id)
		}
	}
	sort.Strings(merged)
	return merged
}
