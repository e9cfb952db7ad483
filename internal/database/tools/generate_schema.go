// Command generate_schema rebuilds internal/database/schema.sql by applying
// every migration to an in-memory catalog and dumping the result.
// With -check it only reports whether the file is stale.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"pmr-go/internal/database"
	"pmr-go/internal/database/migrations"
)

func main() {
	out := flag.String("out", filepath.Join("internal", "database", "schema.sql"), "schema file to write")
	check := flag.Bool("check", false, "fail if the schema file is out of date instead of writing it")
	flag.Parse()

	if err := run(*out, *check); err != nil {
		fmt.Fprintf(os.Stderr, "generate_schema: %v\n", err)
		os.Exit(1)
	}
}

func run(out string, check bool) error {
	db, err := database.OpenConnection(":memory:")
	if err != nil {
		return err
	}
	defer db.Close()

	if err := migrations.MigrateUp(db); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	schema, err := database.DumpSchema(db)
	if err != nil {
		return err
	}

	if check {
		current, err := os.ReadFile(out)
		if err != nil {
			return err
		}
		if !bytes.Equal(current, []byte(schema)) {
			return fmt.Errorf("%s is stale: run go generate ./internal/database", out)
		}
		return nil
	}

	if err := os.WriteFile(out, []byte(schema), 0644); err != nil {
		return err
	}
	fmt.Printf("Generated %s from migrations\n", out)
	return nil
}
