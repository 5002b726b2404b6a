package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/zerok/timesheet/internal/backup"
	"github.com/zerok/timesheet/internal/config"
	"github.com/zerok/timesheet/internal/database"
	"github.com/zerok/timesheet/internal/jira"
)

func main() {
	var verbose bool
	var storageFolder string
	var logFile string
	var configFile string
	var envFiles []string
	pflag.BoolVar(&verbose, "verbose", false, "Verbose logging")
	pflag.StringVar(&logFile, "log-file", "", "Path to a logfile")
	pflag.StringVar(&storageFolder, "store", filepath.Join(os.Getenv("HOME"), ".timesheet"), "Path where timesheet will store its data")
	pflag.StringVar(&configFile, "config", "", "Path to the configuration file (default {store}/config.yml)")
	pflag.StringSliceVar(&envFiles, "env-file", nil, "dotenv file with JIRA settings (may be repeated)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: timesheet [flags] <command> [args]\n\n%s\nFlags:\n", usageText)
		pflag.PrintDefaults()
	}
	// Everything after the command name belongs to the command.
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	if logFile != "" {
		fp, err := os.OpenFile(logFile, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			log.WithError(err).Fatal("Failed to open logfile")
		}
		defer fp.Close()
		log.Out = fp
		log.SetLevel(logrus.InfoLevel)
	}

	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := ensureStorageFolder(storageFolder); err != nil {
		log.WithError(err).Fatalf("Failed to create storage folder %s", storageFolder)
	}

	if configFile == "" {
		configFile = filepath.Join(storageFolder, "config.yml")
	}
	cfg, err := config.Load(configFile, envFiles...)
	if err != nil {
		log.WithError(err).Fatalf("Failed to load configuration file")
	}

	db, err := openDatabase(cfg, storageFolder, log)
	if err != nil {
		log.WithError(err).Fatalf("Failed to load database from %s", storageFolder)
	}
	if err := db.LoadState(); err != nil {
		log.WithError(err).Fatalf("Failed to load database")
	}

	app := newApplication(db, cfg, log)
	app.out = os.Stdout
	if cfg.JIRAConfigured() {
		app.jiraClient = jira.NewClient(cfg.JIRAURL, cfg.JIRAUsername, cfg.JIRAPassword, jira.WithLogger(log))
	}

	bk, err := backup.New(&backup.Options{
		SourcePath: storageFolder,
		Log:        log,
	})
	if err != nil {
		log.WithError(err).Fatal("Failed to configure backup")
	}
	if !bk.Available() {
		log.Info("Backing up not possible. Most likely restic is not installed.")
	} else {
		if err := bk.Init(); err != nil {
			log.WithError(err).Fatalf("Failed to initialize backup")
		}
		app.backup = bk
	}

	if err := app.run(context.Background(), pflag.Args()); err != nil {
		if errors.Cause(err) == errUsage {
			pflag.Usage()
			os.Exit(2)
		}
		log.Out = os.Stderr
		log.WithError(err).Fatal("Command failed")
	}
}

func openDatabase(cfg *config.Config, storageFolder string, log *logrus.Logger) (database.Database, error) {
	switch cfg.Database {
	case config.DatabaseSQLite:
		return database.NewSQLiteDatabase(filepath.Join(storageFolder, "timesheet.db"), log)
	case config.DatabaseFolder:
		return database.NewDatabase(storageFolder, log)
	}
	return nil, errors.Errorf("unsupported database %q", cfg.Database)
}

func ensureStorageFolder(storageFolder string) error {
	return os.MkdirAll(storageFolder, 0700)
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.Out = ioutil.Discard
	return l
}
