package db

import (
	"fmt"
	"os"
	"strconv"
)

// RunMigrateCommand handles `agentsim migrate <action>` against dbPath and
// exits the process on failure.
func RunMigrateCommand(args []string, dbPath string) {
	if len(args) == 0 {
		PrintMigrateHelp()
		os.Exit(1)
	}

	database, err := openForMigrate(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer database.Close()

	switch args[0] {
	case "up":
		err = database.MigrateUp()
	case "down":
		err = database.MigrateDown()
	case "to":
		if len(args) < 2 {
			err = fmt.Errorf("usage: migrate to <version>")
			break
		}
		var v uint64
		v, err = strconv.ParseUint(args[1], 10, 32)
		if err == nil {
			err = database.MigrateTo(uint(v))
		}
	case "status", "version":
	default:
		PrintMigrateHelp()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Migration failed: %v\n", err)
		os.Exit(1)
	}

	version, dirty, err := database.MigrateVersion()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read migration version: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Schema version: %d (dirty: %v)\n", version, dirty)
}

// openForMigrate opens the database without migrating it, so that down and
// to can run against an older schema.
func openForMigrate(path string) (*DB, error) {
	sqlDB, err := openSQL(path)
	if err != nil {
		return nil, err
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// PrintMigrateHelp prints usage for the migrate subcommand.
func PrintMigrateHelp() {
	fmt.Println(`Usage: agentsim migrate <action>

Actions:
  up           Apply all pending migrations
  down         Roll back the most recent migration
  to <version> Migrate up or down to a specific version
  status       Print the current schema version`)
}
