package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/CryptIndo-Labs/Amortized-Quantum-Messaging/pkg/server"
)

var (
	dsn        = flag.String("dsn", "", "Postgres DSN for the coin inventory database (required)")
	dryRun     = flag.Bool("dry-run", false, "Show the DDL that would be applied without making changes")
	backupFile = flag.String("backup", "", "Path to write a pg_dump backup before migrating (default: aqm.backup.sql; skipped if pg_dump is not on PATH)")
	skipBackup = flag.Bool("skip-backup", false, "Skip the pre-migration backup entirely")
)

func main() {
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("AQM Schema Migration Tool")
	log.Println("=========================")

	if *dsn == "" {
		log.Fatal("--dsn is required")
	}

	log.Printf("Target: %s", redactDSN(*dsn))
	log.Printf("Dry run: %v", *dryRun)

	if !*dryRun && !*skipBackup {
		backupPath := *backupFile
		if backupPath == "" {
			backupPath = "aqm.backup.sql"
		}
		if err := backupDatabase(*dsn, backupPath); err != nil {
			log.Printf("⚠ Warning: backup skipped: %v", err)
		} else {
			log.Printf("✓ Backup written to %s", backupPath)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := pgx.Connect(ctx, *dsn)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close(ctx)

	if *dryRun {
		log.Println("\n[DRY RUN] Would apply the following DDL:")
		log.Print(server.Schema)
		log.Println("\nDry run completed. No changes made.")
		return
	}

	if err := applySchema(ctx, conn); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	log.Println("\n✓ Schema applied successfully!")
	log.Println("coin_inventory table and its indexes are present (CREATE ... IF NOT EXISTS is a no-op on a migrated database).")
}

func applySchema(ctx context.Context, conn *pgx.Conn) error {
	if _, err := conn.Exec(ctx, server.Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// backupDatabase shells out to pg_dump. Failure to back up is a warning, not
// fatal: an idempotent CREATE ... IF NOT EXISTS migration has nothing
// destructive to roll back.
func backupDatabase(dsn, path string) error {
	if _, err := exec.LookPath("pg_dump"); err != nil {
		return fmt.Errorf("pg_dump not found on PATH: %w", err)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()

	cmd := exec.Command("pg_dump", dsn)
	cmd.Stdout = out
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// redactDSN strips credentials from a postgres:// DSN before logging it.
func redactDSN(dsn string) string {
	at := strings.LastIndex(dsn, "@")
	scheme := strings.Index(dsn, "://")
	if at == -1 || scheme == -1 || at < scheme {
		return dsn
	}
	return dsn[:scheme+3] + "***@" + dsn[at+1:]
}
