package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/internal/resolver"
)

var (
	sessionJSON bool
)

var sessionCmd = &cobra.Command{
	Use:   "session SESSION_ID",
	Short: "Show one session's full state",
	Long: `Show a session's full state: participants, suggested and claimed
investigations, findings with their validation classification, and the
overall consensus rate.

SESSION_ID may be a full UUID or a unique prefix of at least 6 characters.

Examples:
  # Show session by short ID
  rookery session a1b2c3d4

  # Full state as JSON for scripting
  rookery session a1b2c3d4 --json | jq '.Session.findings'`,
	Args: cobra.ExactArgs(1),
	RunE: runSession,
}

func init() {
	sessionCmd.Flags().BoolVar(&sessionJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(sessionCmd)
}

func runSession(cmd *cobra.Command, args []string) error {
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

	state, err := c.sessions.GetSessionState(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}

	if sessionJSON {
		data, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal session state: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	sess := state.Session

	printer.Header("Session %s\n", sess.ID)
	printer.Printf("  Topic:        %s\n", sess.Topic)
	if sess.Description != "" {
		printer.Printf("  Description:  %s\n", sess.Description)
	}
	printer.Printf("  Status:       %s\n", sess.Status)
	printer.Printf("  Created by:   %s at %s\n", sess.CreatedBy, formatTimestamp(sess.CreatedAtMs))
	if sess.ClosedAtMs > 0 {
		printer.Printf("  Closed at:    %s\n", formatTimestamp(sess.ClosedAtMs))
	}
	if sess.Summary != "" {
		printer.Printf("  Summary:      %s\n", sess.Summary)
	}
	if sess.AbandonReason != "" {
		printer.Printf("  Abandoned:    %s\n", sess.AbandonReason)
	}

	printer.Printf("\n  Participants (%d/%d):\n", len(sess.Participants), sess.MaxParticipants)
	for _, agent := range sess.Participants {
		printer.Printf("    %s (joined %s)\n", agent, formatTimestamp(sess.JoinedAtMs[agent]))
	}

	if len(sess.SuggestedInvestigations) > 0 {
		printer.Printf("\n  Investigations:\n")
		for _, inv := range sess.SuggestedInvestigations {
			holder := sess.ClaimedInvestigations[inv.ID]
			claim := "unclaimed"
			if holder != "" {
				claim = "claimed by " + holder
			}
			printer.Printf("    %-10s %s [%s]\n", shortID(inv.ID), inv.Description, claim)
			if len(inv.NeededSkills) > 0 {
				printer.Printf("               skills: %s\n", strings.Join(inv.NeededSkills, ", "))
			}
		}
	}

	if len(sess.Findings) > 0 {
		printer.Printf("\n  Findings:\n")
		for i := range sess.Findings {
			f := &sess.Findings[i]
			printer.Printf("    %-10s [%s] by %s (confidence %.2f, %d validations)\n",
				shortID(f.ID), state.Classifications[f.ID], f.Author, f.Confidence, len(f.Validations))
			printer.Printf("               %s\n", f.Result)
		}

		counts := map[string]int{}
		for _, class := range state.Classifications {
			counts[string(class)]++
		}
		var classes []string
		for class := range counts {
			classes = append(classes, class)
		}
		sort.Strings(classes)

		printer.Printf("\n  Consensus rate: %.0f%%", state.ConsensusRate*100)
		for _, class := range classes {
			printer.Printf("  %s=%d", class, counts[class])
		}
		printer.Printf("\n")
	}

	return nil
}

// resolveSession turns a short ID into a full session UUID, rendering
// resolver failures as formatted CLI errors.
func resolveSession(ctx context.Context, c *clients, arg string) (string, error) {
	sessionID, err := resolver.ResolveSessionID(ctx, c.sessions, arg)
	if err != nil {
		if ambErr, ok := err.(*resolver.AmbiguousError); ok {
			fmt.Println(resolver.FormatAmbiguousError(ambErr))
			return "", fmt.Errorf("ambiguous session ID: %s", arg)
		}
		if resolver.IsNotFoundError(err) {
			return "", printer.Error(
				fmt.Sprintf("session '%s' not found", arg),
				"No session matches that ID or prefix.",
				[]string{"List sessions:\n  rookery sessions"},
			)
		}
		return "", err
	}
	return sessionID, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTimestamp(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
