package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/polychat-dev/polychat/internal/config"
	"github.com/polychat-dev/polychat/internal/storage"
)

// sourceFlag names which database.sources.<name> entry a migrate
// subcommand targets; empty uses database.default, matching every other
// dataSource-hint convention in this codebase.
var sourceFlag string

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or inspect schema migrations on a configured database source",
	}
	cmd.PersistentFlags().StringVar(&sourceFlag, "source", "", "database.sources.<name> to target (default: database.default)")
	cmd.AddCommand(migrateUpCmd())
	cmd.AddCommand(migrateDownCmd())
	cmd.AddCommand(migrateVersionCmd())
	return cmd
}

func migrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeSrc, err := openMigrationRunner()
			if err != nil {
				return err
			}
			defer closeSrc()
			if err := runner.Up(context.Background()); err != nil {
				return fmt.Errorf("migrate up: %w", err)
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func migrateDownCmd() *cobra.Command {
	var target int
	c := &cobra.Command{
		Use:   "down",
		Short: "Roll back to the given schema version (0 reverts everything)",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeSrc, err := openMigrationRunner()
			if err != nil {
				return err
			}
			defer closeSrc()
			if err := runner.Down(context.Background(), target); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
			fmt.Printf("rolled back to version %d\n", target)
			return nil
		},
	}
	c.Flags().IntVar(&target, "target", 0, "schema version to roll back to")
	return c
}

func migrateVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the source's current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			runner, closeSrc, err := openMigrationRunner()
			if err != nil {
				return err
			}
			defer closeSrc()
			v, err := runner.Version(context.Background())
			if err != nil {
				return fmt.Errorf("migrate version: %w", err)
			}
			fmt.Printf("schema version: %d\n", v)
			return nil
		},
	}
}

// openMigrationRunner loads config, opens the targeted source, and wraps
// it in a storage.Runner over storage.Migrations.
func openMigrationRunner() (*storage.Runner, func(), error) {
	cfg, err := config.Load(cfgFile, overrideDir)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	name := sourceFlag
	if name == "" {
		name = cfg.Database.Default
	}

	sources, err := cfg.StorageSources()
	if err != nil {
		return nil, nil, err
	}
	var target *storage.SourceConfig
	for _, s := range sources {
		if s.Name == name {
			sc := s
			target = &sc
			break
		}
	}
	if target == nil {
		return nil, nil, fmt.Errorf("unknown database source %q", name)
	}

	src, err := storage.OpenSource(*target)
	if err != nil {
		return nil, nil, fmt.Errorf("open source %q: %w", name, err)
	}
	runner := storage.NewRunner(src, storage.Migrations)
	return runner, func() { src.Close() }, nil
}
