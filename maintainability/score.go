// Package maintainability scores BetterCodeHub reports.
//
// The score of a guideline measures how far its volume profile is from the
// compliance thresholds: for every threshold t after the first, lines in the
// buckets up to t count as good and the rest as bad, weighted by
// (1-t)/(t+0.01). A project's score is the mean over its guidelines.
package maintainability

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	AutomateTests                      = "Automate Tests"
	KeepArchitectureComponentsBalanced = "Keep Architecture Components Balanced"

	// thresholds have a minimum of 0.01
	granularity = 0.01
)

var (
	ErrEmptyReport = errors.New("report has no guidelines")
	ErrErrorReport = errors.New("report is an error report")
	ErrZeroVolume  = errors.New("guideline has zero volume")
)

// Score is the mean guideline score of a report.
func Score(r *Report) (float64, error) {
	per, err := scores(r)
	if err != nil {
		return 0, err
	}
	return stat.Mean(per, nil), nil
}

// ScorePerGuideline maps each guideline name to its score.
func ScorePerGuideline(r *Report) (map[string]float64, error) {
	per, err := scores(r)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(per))
	for i, g := range r.AnalysisResults {
		out[g.Guideline] = per[i]
	}
	return out, nil
}

func scores(r *Report) ([]float64, error) {
	if r.Error {
		return nil, ErrErrorReport
	}
	if len(r.AnalysisResults) == 0 {
		return nil, ErrEmptyReport
	}
	total := ProjectLOC(r)
	out := make([]float64, 0, len(r.AnalysisResults))
	for _, g := range r.AnalysisResults {
		s, err := GuidelineScore(g, total)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// ProjectLOC is the number of lines of code of the project, taken from the
// first guideline.
func ProjectLOC(r *Report) float64 {
	if len(r.AnalysisResults) == 0 {
		return 0
	}
	return floats.Sum(r.AnalysisResults[0].QualityProfileVolume)
}

// GuidelineScore scores one guideline of a project with totalLOC lines.
func GuidelineScore(g GuidelineResult, totalLOC float64) (float64, error) {
	if g.Guideline == AutomateTests {
		return 0, nil
	}
	volumes := g.QualityProfileVolume
	sum := floats.Sum(volumes)
	if sum == 0 {
		return 0, fmt.Errorf("%s: %w", g.Guideline, ErrZeroVolume)
	}
	if g.Guideline == KeepArchitectureComponentsBalanced {
		scaled := make([]float64, len(volumes))
		floats.ScaleTo(scaled, totalLOC/sum, volumes)
		volumes = scaled
	}
	if len(g.QualityProfileComplianceThresholds) < 2 {
		return 0, fmt.Errorf("%s: need at least two thresholds, got %d",
			g.Guideline, len(g.QualityProfileComplianceThresholds))
	}
	return distanceToThresholds(volumes, g.QualityProfileComplianceThresholds[1:]), nil
}

func distanceToThresholds(volumes, thresholds []float64) float64 {
	results := make([]float64, 0, len(thresholds))
	for i, t := range thresholds {
		split := min(i+1, len(volumes))
		good := floats.Sum(volumes[:split])
		bad := floats.Sum(volumes[split:])
		results = append(results, good-(1-t)/(t+granularity)*bad)
	}
	return stat.Mean(results, nil)
}

// Legacy is the previous score: the mean compliant share over guidelines.
func Legacy(r *Report) (float64, error) {
	if r.Error {
		return 0, ErrErrorReport
	}
	if len(r.AnalysisResults) == 0 {
		return 0, ErrEmptyReport
	}
	vals := make([]float64, len(r.AnalysisResults))
	for i, g := range r.AnalysisResults {
		vals[i] = 1 - g.PercentageOfNonCompliantCode
	}
	return stat.Mean(vals, nil), nil
}
