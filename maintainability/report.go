package maintainability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorReport marks a commit that could not be analyzed and should be left
// out of the study.
var ErrorReport = json.RawMessage(`{"error":true}`)

var ErrNoAnalysisResults = errors.New("report has no analysisResults")

// GuidelineResult is the outcome of one BetterCodeHub guideline.
type GuidelineResult struct {
	Guideline                          string    `json:"guideline"`
	QualityProfileVolume               []float64 `json:"qualityProfileVolume"`
	QualityProfileComplianceThresholds []float64 `json:"qualityProfileComplianceThresholds"`
	PercentageOfNonCompliantCode       float64   `json:"percentageOfNonCompliantCode"`
}

// Report is the part of a BetterCodeHub report that is scored. The raw body
// is what gets cached.
type Report struct {
	SHA             string            `json:"sha,omitempty"`
	AnalysisResults []GuidelineResult `json:"analysisResults"`
	Error           bool              `json:"error,omitempty"`
}

// ParseReport decodes a cached or freshly collected report. Anything but
// the error sentinel must carry analysisResults.
func ParseReport(raw []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	if !r.Error && r.AnalysisResults == nil {
		return nil, ErrNoAnalysisResults
	}
	return &r, nil
}

// HasAnalysisResults reports whether raw carries an analysisResults field.
func HasAnalysisResults(raw []byte) bool {
	var head struct {
		AnalysisResults json.RawMessage `json:"analysisResults"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return false
	}
	return len(head.AnalysisResults) > 0 && !bytes.Equal(head.AnalysisResults, []byte("null"))
}

// IsErrorReport reports whether raw is the error sentinel.
func IsErrorReport(raw []byte) bool {
	var head struct {
		Error bool `json:"error"`
	}
	return json.Unmarshal(raw, &head) == nil && head.Error
}
