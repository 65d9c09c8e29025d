package cmd

import (
	"fmt"

	"github.com/KevinKickass/OpenMotionCore/internal/auth"
	"github.com/KevinKickass/OpenMotionCore/internal/config"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	tokenOperator string
	tokenRole     string
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "issue an operator token",
	Long: `The token command signs a JWT for an operator with the configured secret
and prints it. Roles are operator, technician and admin.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		token, err := auth.NewJWTHandlerFromConfig(cfg.Auth).GenerateToken(uuid.New(), tokenOperator, tokenRole)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenOperator, "operator", "", "operator name")
	tokenCmd.Flags().StringVar(&tokenRole, "role", auth.RoleOperator, "operator role")
	_ = tokenCmd.MarkFlagRequired("operator")
}
