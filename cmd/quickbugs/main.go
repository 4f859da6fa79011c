// Command quickbugs captures bug evidence from a live web page and
// files it with an issue tracker.
//
// Usage:
//
//	quickbugs record -config quickbugs.yaml --title "Broken checkout"
//	quickbugs screenshot -config quickbugs.yaml --title "Misaligned header"
//	quickbugs serve --db reports.db --listen :8080
//	quickbugs project create --db reports.db --name "acme web"
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	_ "modernc.org/sqlite"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "quickbugs:", err)
		os.Exit(1)
	}
}

type globalOpts struct {
	configPath string
	logLevel   string
}

var global globalOpts

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "quickbugs",
		Short:         "Capture bug evidence from a web page and file it with a tracker",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().StringVar(&global.configPath, "config", "", "path to quickbugs.yaml")
	root.PersistentFlags().StringVar(&global.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(
		newRecordCmd(),
		newScreenshotCmd(),
		newServeCmd(),
		newProjectCmd(),
	)

	return root
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch global.logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
