// Package main implements the remedyctl CLI for manual operations against
// the remedyd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/remedyd/internal/finding"
	"github.com/fyrsmithlabs/remedyd/internal/server"
	"github.com/fyrsmithlabs/remedyd/internal/session"
)

var (
	// serverURL is the base URL for the remedyd HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "remedyctl",
	Short: "CLI for remedyd workflow operations",
	Long: `remedyctl is a command-line interface for the remedyd daemon.
It triggers remediation workflows and inspects their sessions.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9190", "remedyd server URL")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(healthCmd)
}

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

// runCmd triggers a workflow for a finding described in a JSON file.
var runCmd = &cobra.Command{
	Use:   "run [finding.json]",
	Short: "Start a remediation workflow for a finding",
	Long: `Start a remediation workflow for a finding.

The argument is a JSON file describing the finding; use - to read stdin.

Examples:
  # Run the default pipeline for a finding
  remedyctl run finding.json

  # Run only scan and fix
  remedyctl run --steps scan,fix finding.json`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var runSteps []string

func init() {
	runCmd.Flags().StringSliceVar(&runSteps, "steps", nil, "comma-separated step names (default: full pipeline)")
}

func runRun(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if args[0] == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to read finding: %w", err)
	}

	var f finding.Finding
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("invalid finding JSON: %w", err)
	}

	req := server.WorkflowRequest{Finding: f}
	for _, s := range runSteps {
		req.Steps = append(req.Steps, session.StepName(s))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := httpClient().Post(serverURL+"/v1/workflows", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return errorFromResponse(resp)
	}

	var snapshot session.WorkflowSession
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Workflow started: %s (%d steps)\n", snapshot.ID, len(snapshot.Steps))
	return nil
}

// sessionsCmd lists sessions or shows one session.
var sessionsCmd = &cobra.Command{
	Use:   "sessions [id]",
	Short: "List workflow sessions or show one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return showSession(args[0])
		}
		return listSessions()
	},
}

func listSessions() error {
	resp, err := httpClient().Get(serverURL + "/v1/sessions")
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}

	var sessions []session.WorkflowSession
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUBJECT\tSTATUS\tSTEPS\tUPDATED")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
			s.ID, s.SubjectID, s.Status,
			doneSteps(s.Steps), len(s.Steps),
			s.UpdatedAt.Local().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func doneSteps(steps []session.WorkflowStep) int {
	n := 0
	for _, st := range steps {
		if st.Status == session.StepCompleted || st.Status == session.StepSkipped {
			n++
		}
	}
	return n
}

func showSession(id string) error {
	resp, err := httpClient().Get(serverURL + "/v1/sessions/" + id)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, body, "", "  "); err != nil {
		return err
	}
	fmt.Println(pretty.String())
	return nil
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a workflow session",
	Long: `Cancel a workflow session.

Cancellation is cooperative: a step already handed to the external tool
runs to completion before the cancellation takes effect.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpClient().Post(serverURL+"/v1/sessions/"+args[0]+"/cancel", "application/json", nil)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return errorFromResponse(resp)
		}
		fmt.Printf("Session %s cancelled\n", args[0])
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a workflow session record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := http.NewRequest(http.MethodDelete, serverURL+"/v1/sessions/"+args[0], nil)
		if err != nil {
			return err
		}
		resp, err := httpClient().Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusNoContent {
			return errorFromResponse(resp)
		}
		fmt.Printf("Session %s deleted\n", args[0])
		return nil
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check remedyd server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := httpClient().Get(serverURL + "/health")
		if err != nil {
			return fmt.Errorf("server unreachable: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errorFromResponse(resp)
		}
		fmt.Println("ok")
		return nil
	},
}

// errorFromResponse turns a non-success HTTP response into an error.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, payload.Message)
	}
	return fmt.Errorf("server returned %d", resp.StatusCode)
}
