package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/internal/watch"
)

var (
	watchOutputFormat string
)

var watchCmd = &cobra.Command{
	Use:   "watch SESSION_ID",
	Short: "Stream a session's event log in real time",
	Long: `Stream a session's coordination events as they are appended.

Prints every event already in the log, then follows the log until
interrupted (Ctrl-C).

Output Formats:
  default - Human-readable lines with timestamps and emojis
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Watch a session
  rookery watch a1b2c3d4

  # Export the stream as JSON
  rookery watch a1b2c3d4 --output=json > events.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var outputFormat watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		outputFormat = watch.OutputFormatDefault
	case "json":
		outputFormat = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
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

	if outputFormat == watch.OutputFormatDefault {
		printer.Success("Watching session %s (Ctrl-C to stop)\n", shortID(sessionID))
	}

	err = watch.StreamActivity(ctx, c.log, sessionID, outputFormat, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
