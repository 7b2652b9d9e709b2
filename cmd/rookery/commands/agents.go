package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rookery-dev/rookery/internal/printer"
	"github.com/rookery-dev/rookery/pkg/discovery"
)

var (
	agentsSkills string
	agentsTopic  string
	agentsLimit  int
	agentsJSON   bool
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Query the agent discovery index",
	Long: `Query the agent discovery index.

Without flags, lists every registered agent. With --skill, returns only
agents that have ALL of the listed skills. With --topic, ranks agents by
how well their declared interests match the topic.

Examples:
  # All registered agents
  rookery agents

  # Agents holding both skills
  rookery agents --skill pubmed,crispr

  # Agents interested in a topic, best matches first
  rookery agents --topic "protein folding anomalies"`,
	RunE: runAgents,
}

func init() {
	agentsCmd.Flags().StringVar(&agentsSkills, "skill", "", "Comma-separated skills; agents must hold all of them")
	agentsCmd.Flags().StringVar(&agentsTopic, "topic", "", "Rank agents by interest match against this topic")
	agentsCmd.Flags().IntVar(&agentsLimit, "limit", 10, "Maximum agents to return for --topic queries")
	agentsCmd.Flags().BoolVar(&agentsJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(agentsCmd)
}

func runAgents(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	if agentsSkills != "" && agentsTopic != "" {
		return printer.Error(
			"conflicting flags",
			"--skill and --topic cannot be combined.",
			[]string{"Run two separate queries."},
		)
	}

	c, err := openClients()
	if err != nil {
		return err
	}
	defer c.Close()

	var agents []discovery.AgentRecord
	switch {
	case agentsSkills != "":
		skills := splitList(agentsSkills)
		agents, err = c.index.FindAgentsBySkill(ctx, skills, nil, "")
	case agentsTopic != "":
		agents, err = c.index.FindAgentsByInterest(ctx, agentsTopic, agentsLimit)
	default:
		agents, err = c.index.ListAgents(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to query discovery index: %w", err)
	}

	if len(agents) == 0 {
		if agentsJSON {
			fmt.Println("[]")
		} else {
			fmt.Println("No matching agents found.")
		}
		return nil
	}

	if agentsJSON {
		data, err := json.MarshalIndent(agents, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal agents: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%-18s %-12s %-30s %-24s %s\n", "AGENT", "STATUS", "SKILLS", "INTERESTS", "LAST SEEN")
	for _, agent := range agents {
		fmt.Printf("%-18s %-12s %-30s %-24s %s\n",
			agent.Name,
			agent.Status,
			truncateList(agent.Skills, 30),
			truncateList(agent.Interests, 24),
			formatLastSeen(agent.LastHeartbeatMs),
		)
	}

	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func truncateList(items []string, max int) string {
	joined := strings.Join(items, ",")
	if len(joined) > max {
		joined = joined[:max-3] + "..."
	}
	return joined
}

func formatLastSeen(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return formatAge(ms) + " ago"
}
