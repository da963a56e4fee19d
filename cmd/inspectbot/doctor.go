package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"inspectbot/internal/config"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your InspectBot installation",
		Long: `Verifies that InspectBot's configuration, channels, job command,
and history database are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("InspectBot Doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'inspectbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n1 passed, 1 failed\n")
				return nil
			}
			printPass("Config validation", "valid")
			passed++

			// 3. At least one channel enabled with credentials
			if !cfg.Lark.Enabled && !cfg.WeCom.Enabled {
				printFail("Channels", "neither lark nor wecom enabled")
				failed++
			}
			if cfg.Lark.Enabled {
				if cfg.Lark.AppID == "" || cfg.Lark.AppSecret == "" {
					printWarn("Lark channel", "enabled but appId/appSecret missing (replies will fail)")
					warned++
				} else {
					printPass("Lark channel", "configured")
					passed++
				}
				if cfg.Lark.EncryptKey == "" {
					printWarn("Lark encryption", "no encryptKey: plaintext events only")
					warned++
				}
			}
			if cfg.WeCom.Enabled {
				if cfg.WeCom.CorpID == "" || cfg.WeCom.CorpSecret == "" {
					printWarn("WeCom channel", "enabled but corpId/corpSecret missing (replies will fail)")
					warned++
				} else {
					printPass("WeCom channel", "configured")
					passed++
				}
			}

			// 4. Job command resolvable
			if _, err := exec.LookPath(cfg.Job.Command); err != nil {
				printFail("Job command", fmt.Sprintf("%s not found in PATH", cfg.Job.Command))
				failed++
			} else {
				printPass("Job command", cfg.Job.Command)
				passed++
			}
			if cfg.Job.Dir != "" {
				if info, err := os.Stat(cfg.Job.Dir); err != nil || !info.IsDir() {
					printFail("Job directory", fmt.Sprintf("not a directory: %s", cfg.Job.Dir))
					failed++
				} else {
					printPass("Job directory", cfg.Job.Dir)
					passed++
				}
			}

			// 5. Flows file parses if configured
			if cfg.Conversation.FlowsPath != "" {
				if flows, _, err := config.LoadFlows(cfg.Conversation.FlowsPath, logger); err != nil {
					printFail("Flows file", err.Error())
					failed++
				} else {
					printPass("Flows file", fmt.Sprintf("%d flows", len(flows)))
					passed++
				}
			}

			// 6. History database writable
			if cfg.History.Enabled {
				if err := checkDatabase(cfg.History.DBPath); err != nil {
					printFail("History database", err.Error())
					failed++
				} else {
					printPass("History database", cfg.History.DBPath)
					passed++
				}
			}

			// 7. Ports available
			ports := map[string]int{}
			if cfg.Lark.Enabled {
				ports["Lark port"] = cfg.Lark.Port
			}
			if cfg.WeCom.Enabled {
				ports["WeCom port"] = cfg.WeCom.Port
			}
			if cfg.Metrics.Enabled {
				ports["Metrics port"] = cfg.Metrics.Port
			}
			for name, port := range ports {
				if err := checkPort(port); err != nil {
					printWarn(name, fmt.Sprintf("port %d may be in use: %v", port, err))
					warned++
				} else {
					printPass(name, fmt.Sprintf(":%d available", port))
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running InspectBot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nInspectBot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! InspectBot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
