package anomaly

import (
	"fmt"
)

// Detector flags unusual monthly water consumption
type Detector struct {
	spikeThreshold            float64
	minDataPointsForDetection int
}

// NewDetector creates a new anomaly detector with the specified thresholds
func NewDetector(spikeThreshold float64, minDataPointsForDetection int) *Detector {
	return &Detector{
		spikeThreshold:            spikeThreshold,
		minDataPointsForDetection: minDataPointsForDetection,
	}
}

// DetectUsageSpike compares units used this month with the house's earlier months.
// The result is informational; readings are recorded either way.
func (d *Detector) DetectUsageSpike(unitsUsed float64, previousUsage []float64) (bool, string) {
	// Need enough history for spike detection
	if len(previousUsage) < d.minDataPointsForDetection {
		return false, ""
	}

	sum := 0.0
	for _, v := range previousUsage {
		sum += v
	}
	average := sum / float64(len(previousUsage))

	if average > 0 && unitsUsed > d.spikeThreshold*average {
		return true, fmt.Sprintf("usage spike: %.2f units exceeds %.1fx the average of %.2f units",
			unitsUsed, d.spikeThreshold, average)
	}

	return false, ""
}
