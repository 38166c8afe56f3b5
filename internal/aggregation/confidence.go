package aggregation

import "math"

// Confidence policy. Freshness dominates because stale readings are the main
// trust risk; the weights sum to 1.
const (
	sampleWeight    = 0.4
	freshnessWeight = 0.5
	accuracyWeight  = 0.1

	saturationSamples = 50.0
	freshnessHorizonH = 48.0
	accuracyHorizonM  = 100.0
	minAccuracyFactor = 0.3
)

// ComputeConfidence scores how much an aggregate can be trusted, in [0, 1]
// rounded to two decimals. A nil or non-positive gpsAccuracyMeters means the
// accuracy is unknown and does not penalize the score.
func ComputeConfidence(sampleCount int, dataAgeHours float64, gpsAccuracyMeters *float64) float64 {
	sampleFactor := math.Min(float64(max(sampleCount, 0))/saturationSamples, 1.0)
	freshnessFactor := math.Min(math.Max(1.0-dataAgeHours/freshnessHorizonH, 0.0), 1.0)

	accuracyFactor := 1.0
	if gpsAccuracyMeters != nil && *gpsAccuracyMeters > 0 {
		accuracyFactor = math.Max(1.0-*gpsAccuracyMeters/accuracyHorizonM, minAccuracyFactor)
	}

	score := sampleWeight*sampleFactor + freshnessWeight*freshnessFactor + accuracyWeight*accuracyFactor
	return round2(score)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
