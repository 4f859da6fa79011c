package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/quickbugs/quickbugs/bugreport"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

func newRecordCmd() *cobra.Command {
	var (
		pageURL     string
		title       string
		description string
		duration    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record the page with audio, then file the evidence",
		Long: `Record the page as a webm screen recording with microphone audio
while collecting network and console activity, then submit everything
to the configured tracker. Recording ends at --duration, at the
configured maximum, or on Ctrl-C.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(pageURL)
			if err != nil {
				return err
			}
			logger := newLogger()
			ctx := cmd.Context()

			engine, err := bugreport.NewEngine(ctx, *cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close(context.Background())

			rep := engine.Reporter()
			if err := rep.Start(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.ErrOrStderr(), "recording... Ctrl-C to stop and submit")

			wait := ctx.Done()
			var timeout <-chan time.Time
			if duration > 0 {
				t := time.NewTimer(duration)
				defer t.Stop()
				timeout = t.C
			}

			select {
			case <-wait:
			case <-timeout:
			case reason := <-engine.AutoStopped():
				fmt.Fprintf(cmd.ErrOrStderr(), "recording stopped: %s\n", reason)
			}

			// The signal context is done once Ctrl-C fires; submit still
			// needs a live context.
			submitCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			result, err := rep.Submit(submitCtx, title, description, bugreport.SubmitOptions{
				Progress: func(msg string) {
					fmt.Fprintln(cmd.ErrOrStderr(), msg)
				},
			})
			if err != nil {
				return err
			}
			printResult(cmd, result)
			return nil
		},
	}

	cmd.Flags().StringVar(&pageURL, "url", "", "page to capture (overrides config)")
	cmd.Flags().StringVar(&title, "title", "", "bug title (required)")
	cmd.Flags().StringVar(&description, "description", "", "bug description")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop recording after this long (0 = until Ctrl-C or the configured maximum)")
	cmd.MarkFlagRequired("title")

	return cmd
}

func loadConfig(pageURL string) (*bugreport.Config, error) {
	var cfg *bugreport.Config
	if global.configPath != "" {
		loaded, err := bugreport.LoadConfigFile(global.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = bugreport.DefaultConfig()
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if cfg.Page.URL == "" {
		return nil, fmt.Errorf("no page URL: pass --url or set page.url in the config")
	}
	return cfg, nil
}

func printResult(cmd *cobra.Command, result *report.SubmitResult) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "filed %s issue %s\n", result.Provider, result.IssueKey)
	if result.IssueURL != "" {
		fmt.Fprintln(out, result.IssueURL)
	}
	for _, w := range result.Warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
}
