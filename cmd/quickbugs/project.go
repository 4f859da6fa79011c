package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quickbugs/quickbugs/dbopen"
	"github.com/quickbugs/quickbugs/ingest"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Provision ingestion projects and their tracker integrations",
	}
	cmd.AddCommand(newProjectCreateCmd(), newProjectIntegrationCmd())
	return cmd
}

func openStore(dbPath string) (*ingest.Store, func() error, error) {
	db, err := dbopen.Open(dbPath, dbopen.WithMkdirAll())
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	svc, err := ingest.New(ingest.Config{DB: db, Logger: newLogger()})
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return svc.Store(), db.Close, nil
}

func newProjectCreateCmd() *cobra.Command {
	var (
		dbPath    string
		name      string
		rateLimit int
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and print its ingestion key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeDB, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer closeDB()

			p, err := store.CreateProject(cmd.Context(), name, rateLimit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "project id:  %s\n", p.ID)
			fmt.Fprintf(out, "project key: %s\n", p.ProjectKey)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "quickbugs.db", "path to the SQLite database")
	cmd.Flags().StringVar(&name, "name", "", "project name (required)")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 60, "accepted reports per minute")
	cmd.MarkFlagRequired("name")

	return cmd
}

func newProjectIntegrationCmd() *cobra.Command {
	var (
		dbPath     string
		projectID  string
		provider   string
		apiToken   string
		configJSON string
	)

	cmd := &cobra.Command{
		Use:   "add-integration",
		Short: "Attach a tracker integration to a project",
		Long: `Attach a tracker integration to a project. The config is
provider-specific JSON: {"team_id": "..."} for Linear,
{"site_url": "...", "email": "...", "project_key": "..."} for Jira.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider != "linear" && provider != "jira" {
				return fmt.Errorf("provider must be linear or jira, got %q", provider)
			}
			store, closeDB, err := openStore(dbPath)
			if err != nil {
				return err
			}
			defer closeDB()

			id, err := store.AddIntegration(cmd.Context(), projectID, provider, apiToken, configJSON)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "integration id: %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "quickbugs.db", "path to the SQLite database")
	cmd.Flags().StringVar(&projectID, "project-id", "", "project id (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "tracker provider: linear or jira (required)")
	cmd.Flags().StringVar(&apiToken, "api-token", "", "tracker API token (required)")
	cmd.Flags().StringVar(&configJSON, "config", "{}", "provider-specific JSON configuration")
	cmd.MarkFlagRequired("project-id")
	cmd.MarkFlagRequired("provider")
	cmd.MarkFlagRequired("api-token")

	return cmd
}
