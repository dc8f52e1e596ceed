package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/frostdev-ops/pma-rules/internal/config"
	"github.com/frostdev-ops/pma-rules/internal/database"
	"github.com/frostdev-ops/pma-rules/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./configs/config.yaml)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [-config path] up|down|version\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	var (
		cfg *config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.LoadFile(*configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Options{Level: cfg.Logging.Level, Format: "text"})

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("Failed to open database")
	}
	defer db.Close()

	path := cfg.Database.MigrationsPath
	switch flag.Arg(0) {
	case "up":
		if err := database.Migrate(db, path); err != nil {
			log.WithError(err).Fatal("Migration failed")
		}
		log.Info("Migrations applied successfully")
	case "down":
		if err := database.Rollback(db, path); err != nil {
			log.WithError(err).Fatal("Rollback failed")
		}
		log.Info("Last migration rolled back")
	case "version":
		version, dirty, err := database.MigrationVersion(db, path)
		if err != nil {
			log.WithError(err).Fatal("Failed to read migration version")
		}
		log.WithField("dirty", dirty).Infof("Schema version %d", version)
	default:
		log.Fatalf("Unknown command %q. Use up, down or version.", flag.Arg(0))
	}
}
