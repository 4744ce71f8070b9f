package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reasonmesh/internal/decomposer"
	"reasonmesh/internal/planner"
)

var planCmd = &cobra.Command{
	Use:   "plan [goal description]",
	Short: "Decompose a goal and put the plan to a consensus vote",
	Long: `Decomposes a free-text goal into subgoals and phased agent assignments,
recruits the available agents, and runs one consensus round over the proposed
plan. The goal is left approved or failed.

Example:
  mesh plan "Boost community engagement on our product posts"
  mesh plan --priority high --quorum 0.8 "Launch the spring campaign"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlan,
}

var replanCmd = &cobra.Command{
	Use:   "replan [goal-id] [reason]",
	Short: "Re-plan an existing goal after a failure",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runReplan,
}

var goalsCmd = &cobra.Command{
	Use:   "goals",
	Short: "List goals, optionally filtered by status",
	RunE:  runGoals,
}

var insightsCmd = &cobra.Command{
	Use:   "insights",
	Short: "Summarize planning outcomes and memory insights",
	RunE:  runInsights,
}

func init() {
	planCmd.Flags().String("title", "", "Goal title (default: derived from the description)")
	planCmd.Flags().String("priority", "", "Goal priority: low, medium, high, critical")
	planCmd.Flags().Float64("quorum", 0, "Consensus quorum override (0 = configured default)")
	goalsCmd.Flags().StringSlice("status", nil, "Statuses to include")
	for _, c := range []*cobra.Command{planCmd, replanCmd, goalsCmd, insightsCmd} {
		c.Flags().Bool("json", false, "Print JSON instead of formatted output")
	}
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), viper.GetDuration("timeout"))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	title, _ := cmd.Flags().GetString("title")
	priority, _ := cmd.Flags().GetString("priority")
	quorum, _ := cmd.Flags().GetFloat64("quorum")

	res, err := a.planner.Plan(ctx, planner.GoalRequest{
		Title:       title,
		Description: strings.Join(args, " "),
		Priority:    decomposer.Priority(priority),
		Quorum:      quorum,
	})
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(res)
	}
	printPlanningResult(res)
	return nil
}

func runReplan(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.planner.Replan(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return fmt.Errorf("replanning failed: %w", err)
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(res)
	}
	printPlanningResult(res)
	return nil
}

func runGoals(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	raw, _ := cmd.Flags().GetStringSlice("status")
	statuses := make([]planner.GoalStatus, len(raw))
	for i, s := range raw {
		statuses[i] = planner.GoalStatus(s)
	}
	goals, err := a.backend.ListGoals(ctx, statuses...)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(goals)
	}
	if len(goals) == 0 {
		fmt.Println(mutedStyle.Render("no goals"))
		return nil
	}
	for _, g := range goals {
		fmt.Printf("%s  %-11s %4d min  %s\n", mutedStyle.Render(g.ID), statusBadge(string(g.Status)), g.EstimatedTimeMinutes, g.Title)
	}
	return nil
}

func runInsights(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ins, err := a.planner.GetPlanningInsights(ctx)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(ins)
	}

	lines := []string{
		titleStyle.Render("Planning insights"),
		field("Goals", ins.TotalGoals),
		field("Completed", ins.Completed),
		field("Failed", ins.Failed),
		field("Success rate", fmt.Sprintf("%.0f%%", ins.SuccessRate*100)),
		field("Mean planning", ins.MeanPlanningLatency),
	}
	if ins.AveragePerformance != nil {
		lines = append(lines, field("Avg performance", fmt.Sprintf("%.2f", *ins.AveragePerformance)))
	}
	fmt.Println(sectionStyle.Render(strings.Join(lines, "\n")))
	for _, bp := range ins.BestPractices {
		fmt.Println(okStyle.Render("+ ") + bp)
	}
	for _, fr := range ins.FailureReasons {
		fmt.Println(errorStyle.Render("- ") + fr)
	}
	printInsights(ins.MemoryInsights)
	return nil
}
