package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/parley/internal/output"
	"github.com/joescharf/parley/internal/policy"
)

// Package-level shared dependencies, initialized in cobra.OnInitialize.
var (
	ui          *output.UI
	policyStore *policy.SQLiteStore

	verbose bool

	buildVersion = "dev"
	buildCommit  = "none"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley - run concurrent AI coding-assistant sessions",
	Long: `parley orchestrates one or more concurrent AI coding-assistant
conversations: message streaming, tool-permission arbitration, git-backed
code checkpoints, and conversation archives.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
}

// Execute is the main entry point called from main.go.
func Execute(version, commit, date string) {
	buildVersion = version
	buildCommit = commit
	buildDate = date

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initDeps)

	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().String("config", "", "Config file (default ~/.config/parley/config.yaml)")

	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	// If --config is explicitly set, use that file
	if cfgFile, _ := rootCmd.PersistentFlags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: cannot find home directory: %v\n", err)
			os.Exit(1)
		}

		configDir := filepath.Join(home, ".config", "parley")
		viper.AddConfigPath(configDir)
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("PARLEY")
	viper.AutomaticEnv()

	home, _ := os.UserHomeDir()
	defaultStateDir := filepath.Join(home, ".config", "parley")

	viper.SetDefault("state_dir", defaultStateDir)
	viper.SetDefault("policy_db_path", filepath.Join(defaultStateDir, "policy.db"))
	viper.SetDefault("archive_root", filepath.Join(defaultStateDir, "archives"))
	viper.SetDefault("chat.model", "sonnet")
	viper.SetDefault("anthropic.api_key", "")

	// Read config file if it exists (optional)
	_ = viper.ReadInConfig()
}

func initDeps() {
	ui = output.New()
	ui.Verbose = verbose

	// The policy store is opened lazily so version/help run without a db.
}

// getPolicyStore returns the shared policy store, initializing it on first call.
func getPolicyStore() (*policy.SQLiteStore, error) {
	if policyStore != nil {
		return policyStore, nil
	}

	s, err := policy.NewSQLiteStore(viper.GetString("policy_db_path"))
	if err != nil {
		return nil, fmt.Errorf("open policy database: %w", err)
	}
	if err := s.Migrate(rootCmd.Context()); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("migrate policy database: %w", err)
	}

	policyStore = s
	return policyStore, nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(ui.Out, "parley %s (commit %s, built %s)\n", buildVersion, buildCommit, buildDate)
	},
}
