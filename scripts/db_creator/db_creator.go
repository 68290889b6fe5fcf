package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lib/pq"

	"SipExchange/internal/config"
	"SipExchange/internal/repository/user"
	"SipExchange/pkg/dbconnecter"
	"SipExchange/pkg/logger"
)

const retry int = 3

// db_creator recreates the roster database, creates the users table and
// seeds it with the configured roster.
func main() {
	cfg, err := config.LoadServer(append([]string{"--roster-source", config.RosterPostgres}, os.Args[1:]...))
	if err != nil {
		fmt.Printf("Load config with error: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Setup(cfg.LogLevel, os.Stdout); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	params := cfg.Postgres.Params()
	ctx := context.Background()

	admin, closer, err := dbconnecter.DbConnecter(params, true, retry)
	if err != nil {
		fmt.Printf("DB connection err: %v\n", err)
		os.Exit(1)
	}

	name := pq.QuoteIdentifier(params.DBName)
	if _, err = admin.ExecContext(ctx, "DROP DATABASE IF EXISTS "+name); err != nil {
		closer()
		fmt.Printf("DB does not deleted %v\n", err)
		os.Exit(1)
	}
	if _, err = admin.ExecContext(ctx, "CREATE DATABASE "+name); err != nil {
		closer()
		fmt.Printf("DB %v not create: %v\n", params.DBName, err)
		os.Exit(1)
	}
	closer()

	db, closer, err := dbconnecter.DbConnecter(params, false, retry)
	if err != nil {
		fmt.Printf("DB connection err: %v\n", err)
		os.Exit(1)
	}
	defer closer()

	repo := user.NewUserRepo(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		fmt.Printf("Schema not created: %v\n", err)
		os.Exit(1)
	}
	if err := repo.Seed(ctx, user.StaticRoster(cfg.Roster, cfg.DefaultPassword)); err != nil {
		fmt.Printf("Roster not seeded: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("DB %v created with %d users\n", params.DBName, len(cfg.Roster))
}
