package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"reasonmesh/internal/agents"
	"reasonmesh/internal/router"
)

var routeCmd = &cobra.Command{
	Use:   "route [command]",
	Short: "Parse a command and route it to an agent or workflow",
	Long: `Parses a free-text command into an intent and executes it, subject to the
caller's permissions and the budget gate.

Roles:
  viewer   - access_reports
  operator - execute_commands, access_reports
  manager  - execute_commands, manage_campaigns, access_reports

Example:
  mesh route --role manager --max-budget 1000 "launch the spring campaign"
  mesh route --auto-fix "optimize the blog content for search"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRoute,
}

// rolePermissions maps CLI roles to router permissions.
var rolePermissions = map[string][]string{
	"viewer":   {router.PermAccessReports},
	"operator": {router.PermExecuteCommands, router.PermAccessReports},
	"manager":  {router.PermExecuteCommands, router.PermManageCampaigns, router.PermAccessReports},
}

func init() {
	addRouteFlags(routeCmd)
}

func addRouteFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "cli", "Caller user id")
	cmd.Flags().String("session", "", "Session id (default: random)")
	cmd.Flags().String("role", "operator", "Caller role: viewer, operator, manager")
	cmd.Flags().StringSlice("perm", nil, "Extra permissions to grant")
	cmd.Flags().StringSlice("allow-agent", nil, "Restrict execution to these agent types")
	cmd.Flags().Float64("max-budget", 0, "Maximum budget impact (0 = unconstrained)")
	cmd.Flags().Float64("approval-threshold", 0, "Approval threshold (0 = configured default)")
	cmd.Flags().Bool("auto-fix", false, "Fall back to alternate agents when the primary fails")
	cmd.Flags().Bool("json", false, "Print JSON instead of formatted output")
}

func buildCommandContext(cmd *cobra.Command) (router.CommandContext, error) {
	role, _ := cmd.Flags().GetString("role")
	perms, ok := rolePermissions[role]
	if !ok {
		return router.CommandContext{}, fmt.Errorf("unknown role %q", role)
	}
	extra, _ := cmd.Flags().GetStringSlice("perm")
	perms = append(append([]string(nil), perms...), extra...)

	var allowed []agents.AgentType
	names, _ := cmd.Flags().GetStringSlice("allow-agent")
	for _, n := range names {
		t := agents.AgentType(strings.TrimSpace(n))
		if !t.Valid() {
			return router.CommandContext{}, fmt.Errorf("unknown agent type %q", n)
		}
		allowed = append(allowed, t)
	}

	user, _ := cmd.Flags().GetString("user")
	session, _ := cmd.Flags().GetString("session")
	if session == "" {
		session = "sess_" + uuid.New().String()
	}
	maxBudget, _ := cmd.Flags().GetFloat64("max-budget")
	threshold, _ := cmd.Flags().GetFloat64("approval-threshold")
	autoFix, _ := cmd.Flags().GetBool("auto-fix")

	return router.CommandContext{
		UserID:        user,
		SessionID:     session,
		Permissions:   perms,
		AllowedAgents: allowed,
		Constraints:   router.Constraints{MaxBudgetImpact: maxBudget, ApprovalThreshold: threshold},
		AutoFix:       autoFix,
	}, nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	cctx, err := buildCommandContext(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext()
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res := a.router.ProcessCommand(ctx, strings.Join(args, " "), cctx)
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return printJSON(res)
	}
	printCommandResult(res)
	if res.Status == router.StatusFailed || res.Status == router.StatusTimeout {
		return fmt.Errorf("command %s", res.Status)
	}
	return nil
}
