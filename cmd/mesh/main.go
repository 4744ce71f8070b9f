package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"reasonmesh/internal/config"
	"reasonmesh/internal/logging"
)

var (
	// Loaded in PersistentPreRunE.
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "mesh",
	Short: "reasonmesh - multi-agent planning and command routing",
	Long: `reasonmesh coordinates a mesh of marketing agents.

Goals are decomposed into phased agent assignments, proposed as plans and
voted on by the recruited agents. Commands are parsed into intents and routed
to a single agent or a multi-step workflow, gated by permissions and budget.
Every execution is remembered and feeds later planning.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig()
		if err != nil {
			return err
		}
		cfg = loaded

		logCfg := cfg.Logging.ToLogging()
		if viper.GetBool("verbose") {
			logCfg.DebugMode = true
		}
		if err := logging.Initialize(logCfg); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}
		logging.BootDebug("config loaded from %s (store=%s)", viper.GetString("config"), cfg.Store.Driver)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "mesh.yaml", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().Duration("timeout", 5*time.Minute, "Operation timeout")
	rootCmd.PersistentFlags().Bool("ephemeral", false, "Keep all state in memory for this run")
	rootCmd.PersistentFlags().String("db-driver", "", "Store driver override (sqlite, postgres, memory)")
	rootCmd.PersistentFlags().String("db-path", "", "SQLite database path override")
	rootCmd.PersistentFlags().String("budget-file", "data/budget.json", "Cost ledger file")
	rootCmd.PersistentFlags().Float64("monthly-limit", 0, "Monthly spend limit in USD (0 = unlimited)")

	// MESH_* environment variables back every flag, e.g. MESH_DB_DRIVER.
	viper.SetEnvPrefix("mesh")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(replanCmd)
	rootCmd.AddCommand(goalsCmd)
	rootCmd.AddCommand(insightsCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(memoryCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(serveMetricsCmd)
}

// loadConfig reads the YAML file, then applies flag and env overrides.
func loadConfig() (*config.Config, error) {
	c, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if d := viper.GetString("db-driver"); d != "" {
		c.Store.Driver = d
	}
	if p := viper.GetString("db-path"); p != "" {
		c.Store.Path = p
	}
	if viper.GetBool("ephemeral") {
		c.Store.Driver = "memory"
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return c, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("error: ")+err.Error())
		os.Exit(1)
	}
}
