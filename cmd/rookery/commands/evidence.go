package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/pkg/eventlog"
	"github.com/rookery-dev/rookery/pkg/query"
)

var (
	evidenceJSON bool
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence SESSION_ID FINDING_ID",
	Short: "Show a finding's evidence chain",
	Long: `Show the complete evidence chain behind a finding: the tool outputs
and reasoning steps that led to the conclusion, plus every validation and
challenge other agents recorded against it.

The chain is reconstructed from the event log when one is available, and
from the session document otherwise; both views are equivalent.

SESSION_ID may be a full UUID or a unique prefix of at least 6 characters.
FINDING_ID must be the full finding UUID (shown by 'rookery session').`,
	Args: cobra.ExactArgs(2),
	RunE: runEvidence,
}

func init() {
	evidenceCmd.Flags().BoolVar(&evidenceJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(evidenceCmd)
}

func runEvidence(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openClients()
	if err != nil {
		return err
	}
	defer c.Close()

	sessionID, err := resolveSession(ctx, c, args[0])
	if err != nil {
		return err
	}
	findingID := args[1]

	chain, err := c.api.EvidenceChain(ctx, sessionID, findingID)
	if err != nil {
		if errors.Is(err, query.ErrFindingNotFound) || errors.Is(err, eventlog.ErrTaskNotFound) {
			return printer.Error(
				fmt.Sprintf("finding '%s' not found", findingID),
				"The session has no finding with that ID.",
				[]string{fmt.Sprintf("List findings:\n  rookery session %s", shortID(sessionID))},
			)
		}
		return fmt.Errorf("failed to build evidence chain: %w", err)
	}

	if evidenceJSON {
		data, err := json.MarshalIndent(chain, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal evidence chain: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printer.Header("Evidence chain for finding %s\n", shortID(chain.TaskID))
	printer.Printf("  Agent:       %s\n", chain.Agent)
	printer.Printf("  Conclusion:  %s\n", chain.Conclusion)
	printer.Printf("  Confidence:  %.2f\n", chain.Confidence)

	if len(chain.Trail) > 0 {
		printer.Printf("\n  Trail:\n")
		for _, entry := range chain.Trail {
			printer.Printf("    [%s] %s: %s\n", entry.Kind, entry.Source, entry.Content)
		}
	}

	printJudgments("Validations", chain.Validations)
	printJudgments("Challenges", chain.Challenges)

	return nil
}

func printJudgments(label string, judgments []eventlog.Judgment) {
	if len(judgments) == 0 {
		return
	}
	printer.Printf("\n  %s:\n", label)
	for _, j := range judgments {
		printer.Printf("    %s (%s, confidence %.2f): %s\n", j.Agent, j.Status, j.Confidence, j.Reasoning)
	}
}
