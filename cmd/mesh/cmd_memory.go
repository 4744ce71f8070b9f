package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/memory"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Inspect and maintain the cross-agent memory",
}

var memoryCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Evict decayed and expired memory entries",
	RunE:  runMemoryCleanup,
}

var memoryInsightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Show patterns, anomalies and trends mined from memory",
	RunE:  runMemoryInsights,
}

var memoryGraphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Show the agent to goal knowledge graph",
	RunE:  runMemoryGraph,
}

var memorySearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Retrieve the most relevant memories",
	Long: `Retrieves memories ranked by relevance, confidence and decay.

Example:
  mesh memory search --category engagement --tag video --limit 5`,
	RunE: runMemorySearch,
}

func init() {
	memorySearchCmd.Flags().StringSlice("category", nil, "Categories to match")
	memorySearchCmd.Flags().StringSlice("tag", nil, "Tags to match")
	memorySearchCmd.Flags().String("agent", "", "Agent type filter")
	memorySearchCmd.Flags().String("outcome", "", "Outcome filter: success, partial, failure")
	memorySearchCmd.Flags().Float64("min-confidence", 0, "Minimum confidence")
	memorySearchCmd.Flags().Int("limit", 0, "Maximum results (0 = configured default)")
	for _, c := range []*cobra.Command{memoryCleanupCmd, memoryInsightsCmd, memoryGraphCmd, memorySearchCmd} {
		c.Flags().Bool("json", false, "Print JSON instead of formatted output")
	}

	memoryCmd.AddCommand(memoryCleanupCmd)
	memoryCmd.AddCommand(memoryInsightsCmd)
	memoryCmd.AddCommand(memoryGraphCmd)
	memoryCmd.AddCommand(memorySearchCmd)
}

func runMemoryCleanup(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := a.memory.Cleanup(ctx)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if perr := printJSON(stats); perr != nil {
			return perr
		}
		return err
	}
	fmt.Println(field("Scanned", stats.Scanned))
	fmt.Println(field("Evicted", stats.Evicted))
	fmt.Println(field("Remaining", stats.Remaining))
	return err
}

func runMemoryInsights(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	insights := a.memory.GenerateInsights(ctx)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(insights)
	}
	printInsights(insights)
	return nil
}

func runMemoryGraph(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	graph := a.memory.BuildKnowledgeGraph(ctx)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(graph)
	}

	labels := make(map[string]string, len(graph.Nodes))
	for _, n := range graph.Nodes {
		labels[n.ID] = n.Label
	}
	fmt.Println(titleStyle.Render(fmt.Sprintf("%d nodes, %d edges", len(graph.Nodes), len(graph.Edges))))
	for _, e := range graph.Edges {
		fmt.Printf("  %s -> %s  %s\n", labels[e.From], labels[e.To],
			mutedStyle.Render(fmt.Sprintf("x%d, %.0f%% success", e.Count, e.SuccessRate*100)))
	}
	return nil
}

func runMemorySearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	q := memory.Query{}
	q.Categories, _ = cmd.Flags().GetStringSlice("category")
	q.Tags, _ = cmd.Flags().GetStringSlice("tag")
	agent, _ := cmd.Flags().GetString("agent")
	q.AgentType = agents.AgentType(agent)
	outcome, _ := cmd.Flags().GetString("outcome")
	q.Outcome = memory.Outcome(outcome)
	q.MinConfidence, _ = cmd.Flags().GetFloat64("min-confidence")
	q.Limit, _ = cmd.Flags().GetInt("limit")

	entries, err := a.memory.Retrieve(ctx, q)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(entries)
	}
	if len(entries) == 0 {
		fmt.Println(mutedStyle.Render("no matching memories"))
		return nil
	}
	for _, e := range entries {
		fmt.Printf("%s  %-18s %s  conf=%.2f decay=%.2f  %s\n",
			mutedStyle.Render(e.ID), e.AgentType, statusBadge(string(e.Outcome)),
			e.Confidence, e.Temporal.DecayScore, strings.Join(e.Categories, ","))
	}
	return nil
}
