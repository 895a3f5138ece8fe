package maintainability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "sha": "abcdef1234567890",
  "analysisResults": [
    {
      "guideline": "Write Short Units of Code",
      "qualityProfileVolume": [60, 20, 10, 10],
      "qualityProfileComplianceThresholds": [1, 0.49, 0.24, 0.09],
      "percentageOfNonCompliantCode": 0.2
    },
    {
      "guideline": "Automate Tests",
      "qualityProfileVolume": [0, 0],
      "qualityProfileComplianceThresholds": [1, 0.5],
      "percentageOfNonCompliantCode": 0.5
    },
    {
      "guideline": "Keep Architecture Components Balanced",
      "qualityProfileVolume": [1, 3],
      "qualityProfileComplianceThresholds": [1, 0.49],
      "percentageOfNonCompliantCode": 0.1
    }
  ],
  "extra": {"kept": true}
}`

func parse(t *testing.T, raw string) *Report {
	t.Helper()
	r, err := ParseReport([]byte(raw))
	require.NoError(t, err)
	return r
}

func TestScore(t *testing.T) {
	r := parse(t, sampleReport)
	assert.Equal(t, 100.0, ProjectLOC(r))

	score, err := Score(r)
	require.NoError(t, err)
	// short units: mean(19.2, 19.2, -1), tests: 0, balance: 25 - 1.02*75
	assert.InDelta(t, (37.4/3+0-51.5)/3, score, 1e-9)

	again, err := Score(parse(t, sampleReport))
	require.NoError(t, err)
	assert.Equal(t, score, again)
}

func TestScorePerGuideline(t *testing.T) {
	per, err := ScorePerGuideline(parse(t, sampleReport))
	require.NoError(t, err)
	require.Len(t, per, 3)
	assert.Equal(t, 0.0, per[AutomateTests])
	assert.InDelta(t, 37.4/3, per["Write Short Units of Code"], 1e-9)
	assert.InDelta(t, -51.5, per[KeepArchitectureComponentsBalanced], 1e-9)
}

func TestGuidelineScore_AutomateTestsIsZero(t *testing.T) {
	s, err := GuidelineScore(GuidelineResult{
		Guideline:                          AutomateTests,
		QualityProfileVolume:               []float64{10, 90},
		QualityProfileComplianceThresholds: []float64{1, 0.2},
	}, 100)
	require.NoError(t, err)
	assert.Equal(t, 0.0, s)
}

func TestGuidelineScore_AllGood(t *testing.T) {
	s, err := GuidelineScore(GuidelineResult{
		Guideline:                          "Write Simple Units of Code",
		QualityProfileVolume:               []float64{100, 0, 0},
		QualityProfileComplianceThresholds: []float64{1, 0.3, 0.1},
	}, 100)
	require.NoError(t, err)
	assert.Equal(t, 100.0, s)
}

func TestScore_ZeroVolume(t *testing.T) {
	r := parse(t, `{"analysisResults":[{
		"guideline":"Keep Architecture Components Balanced",
		"qualityProfileVolume":[0,0],
		"qualityProfileComplianceThresholds":[1,0.5]}]}`)
	_, err := Score(r)
	assert.ErrorIs(t, err, ErrZeroVolume)
}

func TestScore_Errors(t *testing.T) {
	_, err := Score(parse(t, string(ErrorReport)))
	assert.ErrorIs(t, err, ErrErrorReport)

	_, err = Score(parse(t, `{"sha":"x","analysisResults":[]}`))
	assert.ErrorIs(t, err, ErrEmptyReport)

	_, err = Score(parse(t, `{"analysisResults":[{"guideline":"g","qualityProfileVolume":[1],"qualityProfileComplianceThresholds":[1]}]}`))
	assert.Error(t, err)
}

func TestLegacy(t *testing.T) {
	v, err := Legacy(parse(t, sampleReport))
	require.NoError(t, err)
	assert.InDelta(t, (0.8+0.5+0.9)/3, v, 1e-9)
}

func TestReportKinds(t *testing.T) {
	assert.True(t, IsErrorReport(ErrorReport))
	assert.False(t, IsErrorReport([]byte(sampleReport)))
	_, err := ParseReport([]byte(`{"sha":"x"}`))
	assert.ErrorIs(t, err, ErrNoAnalysisResults)
	_, err = ParseReport([]byte(`{"sha":"x","analysisResults":null}`))
	assert.ErrorIs(t, err, ErrNoAnalysisResults)

	assert.True(t, HasAnalysisResults([]byte(sampleReport)))
	assert.False(t, HasAnalysisResults([]byte(`{"sha":"x"}`)))
	assert.False(t, HasAnalysisResults([]byte(`{"analysisResults":null}`)))
}
