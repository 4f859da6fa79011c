package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/quickbugs/quickbugs/dbopen"
	"github.com/quickbugs/quickbugs/ingest"
)

func newServeCmd() *cobra.Command {
	var (
		dbPath  string
		listen  string
		baseURL string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hosted report collection endpoint",
		Long: `Run the ingestion service: accepts multipart bug reports on
/api/ingest, stores them in SQLite, and forwards them to each
project's configured tracker in the background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			svc, err := ingest.New(ingest.Config{
				DB:        db,
				Forwarder: &ingest.TrackerForwarder{BaseURL: baseURL, Logger: logger},
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              listen,
				Handler:           svc.Router(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("ingest: listening", "addr", listen, "db", dbPath)
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "quickbugs.db", "path to the SQLite database")
	cmd.Flags().StringVar(&listen, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "public dashboard URL used for report links in forwarded issues")

	return cmd
}
