package cmd

import (
	"context"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/polychat-dev/polychat/internal/config"
	"github.com/polychat-dev/polychat/internal/storage"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and database connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Printf("polychat doctor (%s, %s)\n", Version, runtime.Version())
	fmt.Println()

	cfg, err := config.Load(cfgFile, overrideDir)
	if err != nil {
		fmt.Printf("  config:   LOAD FAILED (%s)\n", err)
		return
	}
	fmt.Println("  config:   OK")

	if err := cfg.Validate(); err != nil {
		fmt.Printf("  validate: FAILED (%s)\n", err)
	} else {
		fmt.Println("  validate: OK")
	}

	fmt.Println()
	fmt.Println("  database sources:")
	checkSources(cfg)

	fmt.Println()
	fmt.Println("  providers:")
	for name, p := range cfg.Providers {
		status := "configured"
		if p.APIKey == "" {
			status = "NO API KEY"
		}
		fmt.Printf("    %-20s type=%-18s model=%-20s %s\n", name, p.Type, p.ModelID, status)
	}

	fmt.Println()
	fmt.Println("  channels:")
	fmt.Printf("    telegram: enabled=%v\n", cfg.Telegram.Enabled)
	fmt.Printf("    max:      enabled=%v\n", cfg.Max.Enabled)
}

func checkSources(cfg *config.Config) {
	sources, err := cfg.StorageSources()
	if err != nil {
		fmt.Printf("    config error: %s\n", err)
		return
	}
	for _, sc := range sources {
		label := sc.Name
		if sc.Name == cfg.Database.Default {
			label += " (default)"
		}

		src, err := storage.OpenSource(sc)
		if err != nil {
			fmt.Printf("    %-24s CONNECT FAILED (%s)\n", label, err)
			continue
		}
		if err := src.DB.Ping(); err != nil {
			fmt.Printf("    %-24s PING FAILED (%s)\n", label, err)
			src.Close()
			continue
		}

		runner := storage.NewRunner(src, storage.Migrations)
		version, verr := runner.Version(context.Background())
		src.Close()
		if verr != nil {
			fmt.Printf("    %-24s OK, schema version unknown (%s)\n", label, verr)
			continue
		}
		latest := len(storage.Migrations)
		status := "OK"
		if version < latest {
			status = fmt.Sprintf("OK, %d migration(s) pending", latest-version)
		}
		fmt.Printf("    %-24s schema v%d/%d, %s\n", label, version, latest, status)
	}
}
