package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/pkg/session"
)

var (
	sessionsJSON bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List all collaboration sessions",
	Long: `List all collaboration sessions in the configured storage backend.

For each session, displays:
  • Session ID (short form)
  • Topic
  • Status (active/complete/abandoned)
  • Participant and finding counts
  • Age

Use --json for machine-readable output.`,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	c, err := openClients()
	if err != nil {
		return err
	}
	defer c.Close()

	ids, err := c.sessions.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	var sessions []*session.Session
	for _, id := range ids {
		sess, err := c.sessions.GetSession(ctx, id)
		if err != nil {
			printer.Warning("skipping unreadable session %s\n", id)
			continue
		}
		sessions = append(sessions, sess)
	}

	// Newest first
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAtMs > sessions[j].CreatedAtMs
	})

	if len(sessions) == 0 {
		if sessionsJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No sessions found.")
		}
		return nil
	}

	if sessionsJSON {
		data, err := json.MarshalIndent(sessions, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal sessions: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-10s %-36s %-10s %-13s %-9s %s\n", "ID", "TOPIC", "STATUS", "PARTICIPANTS", "FINDINGS", "AGE")
	for _, sess := range sessions {
		topic := sess.Topic
		if len(topic) > 36 {
			topic = topic[:33] + "..."
		}
		fmt.Printf("%-10s %-36s %-10s %-13d %-9d %s\n",
			sess.ID[:8],
			topic,
			sess.Status,
			len(sess.Participants),
			len(sess.Findings),
			formatAge(sess.CreatedAtMs),
		)
	}

	return nil
}

func formatAge(createdAtMs int64) string {
	d := time.Since(time.UnixMilli(createdAtMs)).Round(time.Second)
	if d < 0 {
		d = 0
	}

	hours := d / time.Hour
	d -= hours * time.Hour

	minutes := d / time.Minute
	d -= minutes * time.Minute

	seconds := d / time.Second

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
