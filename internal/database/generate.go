package database

// To regenerate schema.sql after adding a migration:
//   go generate ./internal/database
// CI runs the same tool with -check.

//go:generate sh -c "cd ../.. && go run internal/database/tools/generate_schema.go"
