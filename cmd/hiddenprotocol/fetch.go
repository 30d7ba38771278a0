package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"hiddenprotocol/internal/config"
	"hiddenprotocol/internal/domain"
	"hiddenprotocol/internal/downloader"
	"hiddenprotocol/internal/links"
)

func fetchCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Download one link into the download directory",
		Long:  "Runs the same yt-dlp download the bot uses and prints the resulting file, or the classified failure.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			url := args[0]
			if !links.Allowed(url) && !force {
				return fmt.Errorf("%s is not a supported link (use --force to try anyway)", url)
			}

			cfg, err := config.Read(resolveConfigPath(), configPath == "")
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			dl, err := downloader.New(downloader.Config{
				Dir:              cfg.Download.Dir,
				Binary:           cfg.Download.Binary,
				FFmpegLocation:   cfg.Download.FFmpegLocation,
				Format:           cfg.Download.Format,
				MergeFormat:      cfg.Download.MergeFormat,
				OutputTemplate:   cfg.Download.OutputTemplate,
				ExtraArgs:        cfg.Download.ExtraArgs,
				ProgressInterval: time.Duration(cfg.Download.ProgressIntervalMs) * time.Millisecond,
				Timeout:          time.Duration(cfg.Download.TimeoutSeconds) * time.Second,
				Logger:           logger,
			})
			if err != nil {
				return err
			}

			res, err := dl.Download(ctx, url, nil)
			if err != nil {
				category := downloader.Classify(err.Error())
				var failure *domain.DownloadFailure
				if errors.As(err, &failure) {
					category = failure.Category
				}
				fmt.Printf("FAILED [%s]: %s\n", category, downloader.UserMessage(category))
				return err
			}

			fmt.Printf("Saved: %s\n", res.FilePath)
			if res.Title != "" {
				fmt.Printf("Title: %s\n", res.Title)
			}
			fmt.Printf("Size:  %s in %s\n", humanize.Bytes(uint64(max(res.ByteSize, 0))), res.Elapsed.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "download links outside the allow-list")
	return cmd
}
