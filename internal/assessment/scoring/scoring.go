// Package scoring aggregates control findings into a score and risk level.
// Pure functions only; the engine calls Summarize once per run.
package scoring

import (
	"math"

	"github.com/adverant/nexus-compliance/internal/assessment/models"
)

// RiskPolicy maps scores onto risk levels. Thresholds are inclusive lower
// bounds; anything below HighMin is critical.
type RiskPolicy struct {
	LowMin    int
	MediumMin int
	HighMin   int
}

// DefaultRiskPolicy is the compatibility default: 90/70/50.
func DefaultRiskPolicy() RiskPolicy {
	return RiskPolicy{LowMin: 90, MediumMin: 70, HighMin: 50}
}

// Level buckets a score under the policy.
func (p RiskPolicy) Level(score int) models.RiskLevel {
	switch {
	case score >= p.LowMin:
		return models.RiskLow
	case score >= p.MediumMin:
		return models.RiskMedium
	case score >= p.HighMin:
		return models.RiskHigh
	default:
		return models.RiskCritical
	}
}

// Summary is the aggregate outcome of one run.
type Summary struct {
	Counters      models.Counters
	BySeverity    map[models.Severity]int
	Score         int
	RiskLevel     models.RiskLevel
	AvgConfidence float64
}

// Summarize tallies findings and computes the score. Compliant controls earn
// full weight and partial controls half; not-applicable and not-assessed are
// excluded from the denominator but counted for reporting. Zero assessed
// controls score 0.
func Summarize(findings []models.Finding, policy RiskPolicy) Summary {
	s := Summary{BySeverity: map[models.Severity]int{}}
	var confidenceSum float64
	for _, f := range findings {
		switch f.Status {
		case models.FindingCompliant:
			s.Counters.CompliantControls++
		case models.FindingNonCompliant:
			s.Counters.NonCompliantControls++
		case models.FindingPartial:
			s.Counters.PartialControls++
		case models.FindingNotApplicable:
			s.Counters.NotApplicableControls++
		case models.FindingNotAssessed:
			s.Counters.NotAssessedControls++
		}
		if f.Severity != nil {
			s.BySeverity[*f.Severity]++
		}
		confidenceSum += f.Confidence
	}

	s.Counters.ControlsAssessed = s.Counters.CompliantControls +
		s.Counters.NonCompliantControls + s.Counters.PartialControls

	if assessed := s.Counters.ControlsAssessed; assessed > 0 {
		compliant := float64(s.Counters.CompliantControls)
		partial := float64(s.Counters.PartialControls)
		s.Score = int(math.Round(100*compliant/float64(assessed) + 50*partial/float64(assessed)))
	}
	s.RiskLevel = policy.Level(s.Score)

	if len(findings) > 0 {
		s.AvgConfidence = confidenceSum / float64(len(findings))
	}
	return s
}
