package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/internal/timespec"
	"github.com/rookery-dev/rookery/internal/watch"
	"github.com/rookery-dev/rookery/pkg/eventlog"
)

var (
	eventsSince string
	eventsUntil string
	eventsAgent string
	eventsType  string
	eventsJSON  bool
)

var eventsCmd = &cobra.Command{
	Use:   "events SESSION_ID",
	Short: "Query a session's raw event log",
	Long: `Query a session's append-only event log with optional filters.

Time filters accept Go durations relative to now ("1h" = 1 hour ago) or
RFC3339 timestamps.

Examples:
  # All events for a session
  rookery events a1b2c3d4

  # Only validation events from the last hour
  rookery events a1b2c3d4 --type AgentValidatedFinding --since 1h

  # One agent's activity in a window
  rookery events a1b2c3d4 --agent agent-b --since 2h --until 1h`,
	Args: cobra.ExactArgs(1),
	RunE: runEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "Only events at or after this time (duration or RFC3339)")
	eventsCmd.Flags().StringVar(&eventsUntil, "until", "", "Only events at or before this time (duration or RFC3339)")
	eventsCmd.Flags().StringVar(&eventsAgent, "agent", "", "Only events recorded by this agent")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "Only events of this type")
	eventsCmd.Flags().BoolVar(&eventsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(eventsCmd)
}

func runEvents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	sinceMs, untilMs, err := timespec.ParseRange(eventsSince, eventsUntil)
	if err != nil {
		return printer.Error(
			"invalid time range",
			fmt.Sprintf("Error: %v", err),
			[]string{"Use a duration like '1h30m' or an RFC3339 timestamp"},
		)
	}

	filter := eventlog.Filter{
		AgentID: eventsAgent,
		SinceMs: sinceMs,
		UntilMs: untilMs,
	}
	if eventsType != "" {
		eventType := eventlog.Type(eventsType)
		if err := eventType.Validate(); err != nil {
			return printer.Error(
				"invalid event type",
				fmt.Sprintf("Error: %v", err),
				[]string{"Valid types include SessionCreated, AgentJoinedSession, AgentClaimedTask, AgentCompletedTask, AgentValidatedFinding"},
			)
		}
		filter.Types = []eventlog.Type{eventType}
	}

	c, err := openClients()
	if err != nil {
		return err
	}
	defer c.Close()

	sessionID, err := resolveSession(ctx, c, args[0])
	if err != nil {
		return err
	}

	events, err := c.log.QueryEvents(ctx, sessionID, filter)
	if err != nil {
		return fmt.Errorf("failed to query event log: %w", err)
	}

	if eventsJSON {
		data, err := json.MarshalIndent(events, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal events: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(events) == 0 {
		fmt.Println("No matching events found.")
		return nil
	}

	for i := range events {
		fmt.Println(watch.FormatEvent(&events[i]))
	}
	return nil
}
