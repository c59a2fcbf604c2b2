package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"firefly-ai-categorize/internal/entity"
	"firefly-ai-categorize/internal/repository/postgresql"
)

func openStore(cmd *cobra.Command) (*pgxpool.Pool, error) {
	pool, err := postgresql.NewPool(cmd.Context(), cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return nil, fmt.Errorf("postgres %s: %w", redactDSN(cfg.Database.URL), err)
	}
	return pool, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := postgresql.Migrate(cmd.Context(), pool); err != nil {
				return err
			}
			logger.Info().Msg("migrations applied")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print job counts per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pool, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			counts, err := postgresql.NewJobRepository(pool).CountByStatus(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range []entity.JobStatus{entity.StatusPending, entity.StatusProcessing, entity.StatusCompleted, entity.StatusFailed} {
				fmt.Fprintf(cmd.OutOrStdout(), "%-11s %d\n", s, counts[s])
			}
			return nil
		},
	}
}

func jobsCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs with their last error",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := entity.JobFilter{Status: entity.JobStatus(status), Limit: limit}
			if f.Status != "" && !f.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			pool, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer pool.Close()

			jobs, err := postgresql.NewJobRepository(pool).List(cmd.Context(), f)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTX\tMERCHANT\tSTATUS\tATTEMPTS\tUPDATED\tERROR")
			for _, j := range jobs {
				errText := ""
				if j.Error != nil {
					errText = *j.Error
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n",
					j.ID, j.TransactionID, j.MerchantName, j.Status, j.Attempts,
					j.UpdatedAt.Format(time.RFC3339), errText)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (pending|processing|completed|failed)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs to show")
	return cmd
}
