package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/proethica/ontextract/internal/model"
	"github.com/proethica/ontextract/internal/provenance"
	"github.com/proethica/ontextract/internal/store"
)

var (
	versionsEnvFilter   string
	versionsLimit       int
	promoteApprovedBy   string
	consolidateStrategy string
)

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Manage workflow versions",
}

var versionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		versions, err := st.ListVersions(cmd.Context(), store.VersionFilter{
			Workflow:    cfg.Versioning.Workflow,
			Environment: model.Environment(versionsEnvFilter),
			Limit:       versionsLimit,
		})
		if err != nil {
			return err
		}
		return printJSON(versions)
	},
}

var versionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create the next version in the configured environment",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		v, err := provenance.NewManager(st, cfg.Versioning).NewVersion(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(v)
	},
}

var versionsPromoteCmd = &cobra.Command{
	Use:   "promote <version-id>",
	Short: "Promote a version to production",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		v, err := provenance.NewManager(st, cfg.Versioning).MarkAsProduction(cmd.Context(), args[0], promoteApprovedBy)
		if err != nil {
			return err
		}
		return printJSON(v)
	},
}

var versionsConsolidateCmd = &cobra.Command{
	Use:   "consolidate <version-id>...",
	Short: "Consolidate trial versions into one candidate",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		v, err := provenance.NewManager(st, cfg.Versioning).Consolidate(cmd.Context(), args, consolidateStrategy)
		if err != nil {
			return err
		}
		return printJSON(v)
	},
}

var versionsCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired development versions and their records",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()
		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}

		n, err := provenance.NewManager(st, cfg.Versioning).CleanupExpired(cmd.Context())
		if err != nil {
			return err
		}
		zap.L().Info("cleanup complete", zap.Int("rows", n))
		return nil
	},
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	versionsListCmd.Flags().StringVar(&versionsEnvFilter, "env", "", "filter by environment")
	versionsListCmd.Flags().IntVar(&versionsLimit, "limit", 50, "maximum versions to list")
	versionsPromoteCmd.Flags().StringVar(&promoteApprovedBy, "approved-by", "", "approver recorded with the promotion")
	versionsConsolidateCmd.Flags().StringVar(&consolidateStrategy, "strategy", provenance.StrategyLatestBest, "consolidation strategy")

	versionsCmd.AddCommand(versionsListCmd, versionsNewCmd, versionsPromoteCmd, versionsConsolidateCmd, versionsCleanupCmd)
	rootCmd.AddCommand(versionsCmd)
}
