package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/quickbugs/quickbugs/bugreport"
	"github.com/quickbugs/quickbugs/bugreport/report"
)

func newScreenshotCmd() *cobra.Command {
	var (
		pageURL     string
		title       string
		description string
		regionSpec  string
	)

	cmd := &cobra.Command{
		Use:   "screenshot",
		Short: "Capture a screenshot of the page and file the evidence",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(pageURL)
			if err != nil {
				return err
			}
			var region *report.Region
			if regionSpec != "" {
				region, err = parseRegion(regionSpec)
				if err != nil {
					return err
				}
			}
			logger := newLogger()
			ctx := cmd.Context()

			engine, err := bugreport.NewEngine(ctx, *cfg, logger)
			if err != nil {
				return err
			}
			defer engine.Close(context.Background())

			rep := engine.Reporter()
			if _, err := rep.CaptureScreenshot(ctx, region); err != nil {
				return err
			}

			// Give in-flight requests triggered by the page a moment to
			// settle so the network log window has content.
			select {
			case <-time.After(2 * time.Second):
			case <-ctx.Done():
			}

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
	cmd.Flags().StringVar(&regionSpec, "region", "", "crop region as x,y,width,height in CSS pixels")
	cmd.MarkFlagRequired("title")

	return cmd
}

func parseRegion(spec string) (*report.Region, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("region must be x,y,width,height, got %q", spec)
	}
	vals := make([]int, 4)
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("region component %q: %w", p, err)
		}
		vals[i] = v
	}
	if vals[2] <= 0 || vals[3] <= 0 {
		return nil, fmt.Errorf("region width and height must be positive")
	}
	return &report.Region{X: vals[0], Y: vals[1], Width: vals[2], Height: vals[3]}, nil
}
