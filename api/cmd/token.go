package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"appcore/api/auth"
)

var (
	tokenWorkspace string
	tokenSubject   string
	tokenTTL       time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a workspace-scoped API token",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v := auth.NewValidator(cfg.JWTSecret)
		token, err := v.Sign(tokenWorkspace, tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenWorkspace, "workspace", "", "workspace the token grants access to")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "token subject")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(tokenCmd)
}
