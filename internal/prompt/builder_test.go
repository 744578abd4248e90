package prompt

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

func testFinding() *finding.Finding {
	return &finding.Finding{
		ID:             "FIND-31",
		Title:          "hardcoded credentials in deploy script",
		Description:    "deploy.sh embeds a database password",
		Severity:       finding.SeverityHigh,
		Type:           "secret_exposure",
		Location:       "scripts/deploy.sh:14",
		Evidence:       `PGPASSWORD=hunter2 psql ...`,
		Recommendation: "load the password from the environment",
	}
}

func TestForStepScan(t *testing.T) {
	text, err := ForStep(session.StepScan, testFinding(), nil)
	require.NoError(t, err)

	assert.Contains(t, text, "FIND-31")
	assert.Contains(t, text, "hardcoded credentials in deploy script")
	assert.Contains(t, text, "Severity: high")
	assert.Contains(t, text, "scripts/deploy.sh:14")
	assert.Contains(t, text, "PGPASSWORD=hunter2")
	assert.Contains(t, text, `"root_cause"`)
}

func TestForStepFixIncludesRecommendation(t *testing.T) {
	text, err := ForStep(session.StepFix, testFinding(), nil)
	require.NoError(t, err)

	assert.Contains(t, text, "load the password from the environment")
	assert.Contains(t, text, `"changed_files"`)
}

func TestForStepFixWithoutRecommendation(t *testing.T) {
	f := testFinding()
	f.Recommendation = ""
	text, err := ForStep(session.StepFix, f, nil)
	require.NoError(t, err)
	assert.NotContains(t, text, "The tracker recommends")
}

func TestForStepTestEmbedsFixResult(t *testing.T) {
	fixResult := json.RawMessage(`{"summary":"moved password to env var","changed_files":["scripts/deploy.sh"]}`)
	text, err := ForStep(session.StepTest, testFinding(), fixResult)
	require.NoError(t, err)

	assert.Contains(t, text, "moved password to env var")
	assert.Contains(t, text, `"verified"`)
}

func TestForStepDocumentEmbedsFixResult(t *testing.T) {
	fixResult := json.RawMessage(`{"summary":"moved password to env var"}`)
	text, err := ForStep(session.StepDocument, testFinding(), fixResult)
	require.NoError(t, err)

	assert.Contains(t, text, "moved password to env var")
	assert.Contains(t, text, "change summary")
}

func TestForStepWithoutPriorResult(t *testing.T) {
	text, err := ForStep(session.StepTest, testFinding(), nil)
	require.NoError(t, err)
	assert.NotContains(t, text, "The fix step reported")
}

func TestForStepUnknownStep(t *testing.T) {
	_, err := ForStep("deploy", testFinding(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deploy")
}

func TestForStepSkipsEmptyOptionalFields(t *testing.T) {
	f := &finding.Finding{ID: "FIND-1", Title: "minimal", Severity: finding.SeverityLow}
	text, err := ForStep(session.StepScan, f, nil)
	require.NoError(t, err)

	assert.NotContains(t, text, "Location:")
	assert.NotContains(t, text, "Evidence:")
	assert.NotContains(t, text, "Type:")
}
