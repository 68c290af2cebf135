package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"clinica.app/internal/config"
	"clinica.app/internal/migrate"
	"clinica.app/internal/obs"
	"clinica.app/internal/store/pg"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}
	cmd.PersistentFlags().String("dsn", "", "PostgreSQL DSN (defaults to DATABASE_URL)")
	cmd.PersistentFlags().Duration("timeout", 30*time.Second, "Overall timeout")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			for _, name := range applied {
				fmt.Println("applied", name)
			}
			fmt.Printf("Applied %d migration(s).\n", len(applied))
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert the most recent migration",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if err != nil {
				return fmt.Errorf("rollback failed: %w", err)
			}
			if name == "" {
				fmt.Println("Nothing to revert.")
				return nil
			}
			fmt.Println("reverted", name)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			statuses, err := m.Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			fmt.Printf("%-48s %s\n", "NAME", "STATUS")
			for _, s := range statuses {
				state := "pending"
				if s.Applied {
					state = "applied"
				}
				fmt.Printf("%-48s %s\n", s.Name, state)
			}
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "seed",
		Short: "Load demo seed data",
		RunE: withManager(func(ctx context.Context, m *migrate.Manager) error {
			if err := m.Seed(ctx); err != nil {
				return fmt.Errorf("seed failed: %w", err)
			}
			fmt.Println("Seeds applied.")
			return nil
		}),
	})
	return cmd
}

func withManager(fn func(ctx context.Context, m *migrate.Manager) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		dsn, _ := cmd.Flags().GetString("dsn")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if dsn == "" {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			dsn = cfg.DatabaseURL
		}
		if dsn == "" {
			return fmt.Errorf("missing DSN: provide --dsn or DATABASE_URL")
		}

		log, err := obs.NewLogger("info", "console", "clinica-migrate")
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		store, err := pg.Open(dsn, 2, log)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		mgr := migrate.NewManager(store.DB(), migrate.Migrations(), migrate.Seeds(), migrate.WithLogger(log.With(zap.String("component", "migrate"))))
		return fn(ctx, mgr)
	}
}
