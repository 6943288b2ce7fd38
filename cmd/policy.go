package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Manage durable tool-permission rules",
	Long: `Manage the "always allow" rules consulted before prompting for
tool permissions. A rule authorizes a tool in every session until revoked.`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List permission rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := getPolicyStore()
		if err != nil {
			return err
		}
		rules, err := ps.ListRules(cmd.Context())
		if err != nil {
			return err
		}
		if len(rules) == 0 {
			ui.Info("no permission rules")
			return nil
		}
		table := ui.Table([]string{"Tool", "Allowed since"})
		for _, r := range rules {
			table.Append([]string{r.Tool, r.CreatedAt.Local().Format(time.DateTime)})
		}
		return table.Render()
	},
}

var policyAllowCmd = &cobra.Command{
	Use:   "allow <tool>",
	Short: "Always allow a tool",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := getPolicyStore()
		if err != nil {
			return err
		}
		if err := ps.AllowAlways(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.Success("tool %s always allowed", args[0])
		return nil
	},
}

var policyRevokeCmd = &cobra.Command{
	Use:   "revoke <tool>",
	Short: "Revoke a tool's rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ps, err := getPolicyStore()
		if err != nil {
			return err
		}
		n, err := ps.Revoke(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("no rule for tool %s", args[0])
		}
		ui.Success("rule for %s revoked", args[0])
		return nil
	},
}

func init() {
	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyAllowCmd)
	policyCmd.AddCommand(policyRevokeCmd)
	rootCmd.AddCommand(policyCmd)
}
