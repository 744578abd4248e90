// Package prompt builds the natural-language instructions for each pipeline
// step from a finding record and, where a step depends on earlier work, the
// prior step's result.
package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

// ForStep returns the instruction text for a step. priorResult is the stored
// result of the step this one depends on (the fix step for test and
// document); nil when there is none.
func ForStep(name session.StepName, f *finding.Finding, priorResult json.RawMessage) (string, error) {
	switch name {
	case session.StepScan:
		return buildScan(f), nil
	case session.StepFix:
		return buildFix(f), nil
	case session.StepTest:
		return buildTest(f, priorResult), nil
	case session.StepDocument:
		return buildDocument(f, priorResult), nil
	}
	return "", fmt.Errorf("no prompt builder for step %q", name)
}

func buildScan(f *finding.Finding) string {
	var b strings.Builder
	b.WriteString("Analyze the following reported finding and locate the affected code.\n\n")
	writeFinding(&b, f)
	b.WriteString("\nIdentify the root cause, the affected files, and the blast radius. ")
	b.WriteString("Respond with a JSON object containing \"root_cause\", \"affected_files\" and \"analysis\".")
	return b.String()
}

func buildFix(f *finding.Finding) string {
	var b strings.Builder
	b.WriteString("Remediate the following finding by editing the affected code.\n\n")
	writeFinding(&b, f)
	if f.Recommendation != "" {
		b.WriteString("\nThe tracker recommends: " + f.Recommendation + "\n")
	}
	b.WriteString("\nApply the minimal safe fix. Respond with a JSON object containing ")
	b.WriteString("\"summary\", \"changed_files\" and \"diff\".")
	return b.String()
}

func buildTest(f *finding.Finding, fixResult json.RawMessage) string {
	var b strings.Builder
	b.WriteString("Verify the remediation applied for the following finding.\n\n")
	writeFinding(&b, f)
	if len(fixResult) > 0 {
		b.WriteString("\nThe fix step reported:\n")
		b.Write(fixResult)
		b.WriteString("\n")
	}
	b.WriteString("\nRun the relevant tests and confirm the issue no longer reproduces. ")
	b.WriteString("Respond with a JSON object containing \"verified\", \"tests_run\" and \"notes\".")
	return b.String()
}

func buildDocument(f *finding.Finding, fixResult json.RawMessage) string {
	var b strings.Builder
	b.WriteString("Document the remediation applied for the following finding.\n\n")
	writeFinding(&b, f)
	if len(fixResult) > 0 {
		b.WriteString("\nThe fix step reported:\n")
		b.Write(fixResult)
		b.WriteString("\n")
	}
	b.WriteString("\nWrite a concise change summary suitable for the tracker. ")
	b.WriteString("Respond with a JSON object containing \"summary\" and \"details\".")
	return b.String()
}

func writeFinding(b *strings.Builder, f *finding.Finding) {
	fmt.Fprintf(b, "Finding %s: %s\n", f.ID, f.Title)
	fmt.Fprintf(b, "Severity: %s\n", f.Severity)
	if f.Type != "" {
		fmt.Fprintf(b, "Type: %s\n", f.Type)
	}
	if f.Location != "" {
		fmt.Fprintf(b, "Location: %s\n", f.Location)
	}
	if f.Description != "" {
		fmt.Fprintf(b, "Description: %s\n", f.Description)
	}
	if f.Evidence != "" {
		fmt.Fprintf(b, "Evidence:\n%s\n", f.Evidence)
	}
}
