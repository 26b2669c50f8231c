package main

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/docsight/internal/config"
	"github.com/haasonsaas/docsight/internal/storage"
)

func openMigrator(configPath string) (*storage.Migrator, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if strings.TrimSpace(cfg.Database.URL) == "" {
		return nil, nil, fmt.Errorf("database url is required")
	}
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	migrator, err := storage.NewMigrator(db)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return migrator, func() { _ = db.Close() }, nil
}

func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	migrator, done, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer done()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		cmd.Println("no pending migrations")
		return nil
	}
	for _, id := range applied {
		cmd.Printf("applied %s\n", id)
	}
	return nil
}

func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	migrator, done, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer done()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		cmd.Println("nothing to roll back")
		return nil
	}
	for _, id := range rolled {
		cmd.Printf("rolled back %s\n", id)
	}
	return nil
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	migrator, done, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer done()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}
	for _, m := range applied {
		cmd.Printf("applied  %s  %s\n", m.ID, m.AppliedAt.Format("2006-01-02 15:04:05"))
	}
	for _, m := range pending {
		cmd.Printf("pending  %s\n", m.ID)
	}
	if len(applied) == 0 && len(pending) == 0 {
		cmd.Println("no migrations found")
	}
	return nil
}
