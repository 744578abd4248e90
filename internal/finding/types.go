// Package finding defines the finding records that remediation workflows
// operate on. Findings are produced by an external tracker and are read-only
// input to this daemon; nothing here mutates them.
package finding

// Severity classifies how serious a finding is.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Finding is a single reported issue to remediate.
type Finding struct {
	// ID is the tracker's identifier for this finding.
	ID string `json:"id"`

	// Title is a short human-readable summary.
	Title string `json:"title"`

	// Description explains the issue in detail.
	Description string `json:"description"`

	// Severity is the tracker-assigned severity.
	Severity Severity `json:"severity"`

	// Type categorizes the finding (e.g. "sql-injection", "xss").
	Type string `json:"type,omitempty"`

	// Location points at the affected file and line, when known.
	Location string `json:"location,omitempty"`

	// Evidence is supporting material (stack trace, request sample).
	Evidence string `json:"evidence,omitempty"`

	// Recommendation is the tracker's suggested fix, if any.
	Recommendation string `json:"recommendation,omitempty"`
}
