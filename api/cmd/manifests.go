package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"appcore/api/model"
	"appcore/api/validate"
)

var manifestsCmd = &cobra.Command{
	Use:   "manifests",
	Short: "Work with declarative application manifests",
}

var manifestsApplyCmd = &cobra.Command{
	Use:   "apply [dir]",
	Short: "Create applications declared in a manifests directory",
	Long: `Create every application described by a *.yaml or *.yml file in dir
(defaults to manifests_dir). Applications that already exist are skipped,
as are manifests that fail validation.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runManifestsApply,
}

var manifestsValidateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Lint manifests without touching the cluster",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runManifestsValidate,
}

func init() {
	manifestsCmd.AddCommand(manifestsApplyCmd)
	manifestsCmd.AddCommand(manifestsValidateCmd)
	rootCmd.AddCommand(manifestsCmd)
}

func loadManifests(args []string) ([]*model.Manifest, error) {
	dir := cfg.ManifestsDir
	if len(args) == 1 {
		dir = args[0]
	}
	if dir == "" {
		return nil, fmt.Errorf("no manifests directory given and manifests_dir is not set")
	}
	manifests, err := model.DiscoverManifests(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifests: %w", err)
	}
	return manifests, nil
}

func printFindings(r *validate.Result) {
	for _, f := range r.Findings {
		field := ""
		if f.Field != "" {
			field = " (" + f.Field + ")"
		}
		fmt.Printf("      %-7s %s%s\n", f.Severity, f.Message, field)
	}
}

func runManifestsValidate(cmd *cobra.Command, args []string) error {
	manifests, err := loadManifests(args)
	if err != nil {
		return err
	}
	invalid := 0
	for _, m := range manifests {
		r := validate.Manifest(m)
		status := "ok"
		if !r.Valid() {
			status = "invalid"
			invalid++
		}
		fmt.Printf("  %-24s %s\n", m.App, status)
		printFindings(r)
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d manifests are invalid", invalid, len(manifests))
	}
	return nil
}

func runManifestsApply(cmd *cobra.Command, args []string) error {
	manifests, err := loadManifests(args)
	if err != nil {
		return err
	}

	c, err := wire()
	if err != nil {
		return err
	}
	defer c.Close()
	c.pool.Start()

	ctx := context.Background()
	for _, m := range manifests {
		if r := validate.Manifest(m); !r.Valid() {
			fmt.Printf("  %-24s invalid\n", m.App)
			printFindings(r)
			continue
		}
		app, created, err := c.apps.ApplyManifest(ctx, m)
		switch {
		case err != nil:
			fmt.Printf("  %-24s error: %v\n", m.App, err)
		case created:
			fmt.Printf("  %-24s created (%s)\n", m.App, app.ID)
		default:
			fmt.Printf("  %-24s exists\n", m.App)
		}
	}

	// Wait for dispatched deployments before exiting.
	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	return c.pool.Stop(stopCtx)
}
