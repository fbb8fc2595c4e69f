// Command migrate applies the embedded PostgreSQL schema via goose.
//
// Usage:
//
//	migrate up          # apply all pending migrations
//	migrate down        # roll back the last migration
//	migrate status      # show migration status
//	migrate version     # show current schema version
//	migrate redo        # roll back and re-apply the last migration
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"settlement-engine/config"
	"settlement-engine/migrations"
	"settlement-engine/pkg/logger"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: migrate <command> [args]")
		fmt.Println("Commands: up, down, status, version, redo, up-to <version>, down-to <version>")
		os.Exit(1)
	}

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.Component(logger.New(cfg.Log.Level, cfg.Log.Pretty), "migrate")

	db, err := sql.Open("pgx", cfg.Database.DSN())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		log.Fatal().Err(err).Msg("Failed to set goose dialect")
	}

	command := os.Args[1]
	if err := goose.RunContext(context.Background(), command, db, ".", os.Args[2:]...); err != nil {
		log.Fatal().Err(err).Str("command", command).Msg("Migration failed")
	}
	log.Info().Str("command", command).Msg("Migration finished")
}
