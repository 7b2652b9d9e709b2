package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
)

var (
	timelineJSON bool
)

var timelineCmd = &cobra.Command{
	Use:   "timeline SESSION_ID",
	Short: "Show a session's chronological history",
	Long: `Replay a session's history in chronological order: creation, agents
joining, investigations being claimed, findings posted, and validations.

SESSION_ID may be a full UUID or a unique prefix of at least 6 characters.`,
	Args: cobra.ExactArgs(1),
	RunE: runTimeline,
}

func init() {
	timelineCmd.Flags().BoolVar(&timelineJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(timelineCmd)
}

func runTimeline(cmd *cobra.Command, args []string) error {
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

	entries, err := c.api.SessionTimeline(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to build timeline: %w", err)
	}

	if timelineJSON {
		data, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal timeline: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	printer.Header("Timeline for session %s (%d entries)\n", shortID(sessionID), len(entries))
	for _, entry := range entries {
		ref := ""
		if entry.Ref != "" {
			ref = " " + shortID(entry.Ref)
		}
		detail := ""
		if entry.Detail != "" {
			detail = "  " + entry.Detail
		}
		printer.Printf("%s  %-22s %-14s%s%s\n",
			formatTimestamp(entry.TimestampMs), entry.Kind, entry.Agent, ref, detail)
	}

	return nil
}
