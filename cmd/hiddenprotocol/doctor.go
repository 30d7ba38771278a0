package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hiddenprotocol/internal/config"
	"hiddenprotocol/internal/store"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on the installation",
		Long: `Verifies that the configuration, yt-dlp, ffmpeg, the download
directory and the history database are usable. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("hiddenprotocol doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults + environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.Read(cfgPath, true)
			if err != nil {
				r.fail("Config parse", err.Error())
				return r.summary()
			}
			if err := config.Validate(cfg); err != nil {
				r.fail("Config validation", err.Error())
			} else {
				r.pass("Config validation", "valid")
			}

			if cfg.Telegram.Token == "" {
				r.fail("Bot token", "missing (set telegram.token or TOKEN)")
			} else {
				r.pass("Bot token", config.Sanitize(cfg).Telegram.Token)
			}

			if path, err := exec.LookPath(cfg.Download.Binary); err != nil {
				r.fail("yt-dlp", fmt.Sprintf("%s not found on PATH", cfg.Download.Binary))
			} else {
				r.pass("yt-dlp", path+" "+toolVersion(path, "--version"))
			}

			ffmpeg := "ffmpeg"
			if cfg.Download.FFmpegLocation != "" {
				ffmpeg = cfg.Download.FFmpegLocation
				if info, err := os.Stat(ffmpeg); err == nil && info.IsDir() {
					ffmpeg = filepath.Join(ffmpeg, "ffmpeg")
				}
			}
			if path, err := exec.LookPath(ffmpeg); err != nil {
				r.warn("ffmpeg", "not found; formats that need merging will fail")
			} else {
				r.pass("ffmpeg", path)
			}

			if err := checkWritableDir(cfg.Download.Dir); err != nil {
				r.fail("Download dir", err.Error())
			} else {
				r.pass("Download dir", cfg.Download.Dir)
			}

			if cfg.History.Enabled {
				if err := checkHistory(cfg.History.DBPath); err != nil {
					r.fail("History DB", err.Error())
				} else {
					r.pass("History DB", cfg.History.DBPath)
				}
			} else {
				r.warn("History DB", "disabled")
			}

			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			if cfg.Escalation.Enabled {
				r.pass("Escalation", fmt.Sprintf("chat %d thread %d", cfg.Escalation.ChatID, cfg.Escalation.ThreadID))
			} else {
				r.warn("Escalation", "disabled (set LOG_CHAT_ID to mirror errors into a chat)")
			}

			return r.summary()
		},
	}
}

type report struct {
	passed, warned, failed int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running the bot.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nThe bot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! Ready to run.\n")
	}
	return nil
}

func toolVersion(path string, flag string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, path, flag).Output()
	if err != nil {
		return "(version unknown)"
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	return "(" + line + ")"
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create: %w", err)
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

func checkHistory(dbPath string) error {
	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	_, err = s.RecentDeliveries(ctx, 1)
	return err
}
