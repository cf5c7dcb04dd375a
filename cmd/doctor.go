package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/ligolabs/ligo/internal/config"
	"github.com/ligolabs/ligo/internal/providers"
	"github.com/ligolabs/ligo/internal/secrets"
	"github.com/ligolabs/ligo/internal/store/pg"
	"github.com/ligolabs/ligo/internal/upgrade"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check system environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor()
		},
	}
}

func runDoctor() {
	fmt.Println("ligo doctor")
	fmt.Printf("  Version:  %s\n", Version)
	fmt.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Printf("  Go:       %s\n", runtime.Version())
	fmt.Println()

	cfgPath := resolveConfigPath()
	fmt.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		fmt.Println(" (NOT FOUND, defaults + env apply)")
	} else {
		fmt.Println(" (OK)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Printf("  Config load error: %s\n", err)
		return
	}

	fmt.Println()
	fmt.Println("  Database:")
	if cfg.Database.PostgresDSN == "" {
		fmt.Printf("    %-12s LIGO_POSTGRES_DSN not set\n", "Status:")
	} else if db, dbErr := pg.OpenDB(cfg.Database.PostgresDSN); dbErr != nil {
		fmt.Printf("    %-12s CONNECT FAILED (%s)\n", "Status:", dbErr)
	} else {
		defer db.Close()
		fmt.Printf("    %-12s connected\n", "Status:")

		s, schemaErr := upgrade.CheckSchema(db)
		switch {
		case schemaErr != nil:
			fmt.Printf("    %-12s CHECK FAILED (%s)\n", "Schema:", schemaErr)
		case s.Dirty:
			fmt.Printf("    %-12s v%d (DIRTY, run: ligo migrate force %d)\n", "Schema:", s.CurrentVersion, s.CurrentVersion-1)
		case s.Compatible:
			fmt.Printf("    %-12s v%d (up to date)\n", "Schema:", s.CurrentVersion)
		case s.CurrentVersion > s.RequiredVersion:
			fmt.Printf("    %-12s v%d (binary too old, requires v%d)\n", "Schema:", s.CurrentVersion, s.RequiredVersion)
		default:
			fmt.Printf("    %-12s v%d (run: ligo migrate up)\n", "Schema:", s.CurrentVersion)
		}

		pending, hookErr := upgrade.PendingHooks(context.Background(), db)
		if hookErr == nil && len(pending) > 0 {
			fmt.Printf("    %-12s %d pending\n", "Data hooks:", len(pending))
		} else if hookErr == nil {
			fmt.Printf("    %-12s all applied\n", "Data hooks:")
		}

		checkDBInstances(db)
	}

	if cfg.Database.EncryptionKey == "" {
		fmt.Printf("    %-12s LIGO_ENCRYPTION_KEY not set\n", "Secrets:")
	} else if _, keyErr := secrets.NewBox(cfg.Database.EncryptionKey); keyErr != nil {
		fmt.Printf("    %-12s INVALID (%s)\n", "Secrets:", keyErr)
	} else {
		fmt.Printf("    %-12s key accepted\n", "Secrets:")
	}

	// Provider catalog. API keys are tenant-scoped in the DB, so the
	// doctor lists what is registered rather than probing credentials.
	reg := providers.NewRegistries(cfg.Providers, nil)
	fmt.Println()
	fmt.Println("  Providers:")
	printCatalog("LLM", reg.LLM.List())
	printCatalog("TTS", reg.TTS.List())
	printCatalog("Search", reg.Search.List())
	printCatalog("Flights", reg.Flights.List())

	fmt.Println()
	fmt.Println("  Channels:")
	checkChannel("WhatsApp", cfg.Channels.Whatsapp.Enabled)
	checkChannel("Telegram", cfg.Channels.Telegram.Enabled)
	checkChannel("Playground", cfg.Channels.Playground.Enabled)

	fmt.Println()
	fmt.Println("  External Tools:")
	checkBinary("docker")
	checkBinary("curl")

	fmt.Println()
	dataDir := config.ExpandHome(cfg.Gateway.DataDir)
	fmt.Printf("  Data dir: %s", dataDir)
	if _, err := os.Stat(dataDir); err != nil {
		fmt.Println(" (NOT FOUND, created on start)")
	} else {
		fmt.Println(" (OK)")
	}

	fmt.Println()
	fmt.Println("Doctor check complete.")
}

func printCatalog(kind string, infos []providers.Info) {
	for _, info := range infos {
		detail := "no API key needed"
		if info.RequiresAPIKey {
			detail = "tenant API key required"
		}
		fmt.Printf("    %-10s %-16s %s\n", kind+":", info.Display, detail)
	}
}

func checkChannel(name string, enabled bool) {
	status := "disabled"
	if enabled {
		status = "enabled"
	}
	fmt.Printf("    %-12s %s\n", name+":", status)
}

func checkDBInstances(db *sql.DB) {
	rows, err := db.QueryContext(context.Background(),
		`SELECT channel, kind, active FROM instances ORDER BY channel, created_at`)
	if err != nil {
		fmt.Printf("    %-12s (could not query instances: %s)\n", "Instances:", err)
		return
	}
	defer rows.Close()

	counts := map[string]int{}
	active := map[string]int{}
	for rows.Next() {
		var channel, kind string
		var isActive bool
		if err := rows.Scan(&channel, &kind, &isActive); err != nil {
			continue
		}
		counts[channel]++
		if isActive {
			active[channel]++
		}
	}
	if len(counts) == 0 {
		fmt.Printf("    %-12s none configured\n", "Instances:")
		return
	}
	for channel, n := range counts {
		fmt.Printf("    %-12s %s: %d (%d active)\n", "Instances:", channel, n, active[channel])
	}
}

func checkBinary(name string) {
	path, err := exec.LookPath(name)
	if err != nil {
		fmt.Printf("    %-12s NOT FOUND\n", name+":")
	} else {
		fmt.Printf("    %-12s %s\n", name+":", path)
	}
}
