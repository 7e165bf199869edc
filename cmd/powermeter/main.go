package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/chrissnell/powermeter/internal/app"
	"github.com/chrissnell/powermeter/internal/database"
	"github.com/chrissnell/powermeter/internal/log"
	"github.com/chrissnell/powermeter/internal/storage/gormstore"
	"github.com/chrissnell/powermeter/pkg/config"
)

const version = "1.0-" + runtime.GOOS + "/" + runtime.GOARCH

func main() {
	cfgFile := flag.String("config", "config.yaml", "Path to the YAML configuration file")
	envFile := flag.String("env", ".env", "Path to a .env file with STORE_URL, STORE_SERVICE_KEY and friends (ignored if missing)")
	issueToken := flag.String("issue-token", "", "Issue a bearer token for the given user id and exit")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("powermeter %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	if err := log.Init(*debug); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := config.LoadDotEnv(*envFile); err != nil {
		log.Errorf("Failed to load %s: %v", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	provider, err := loadConfig(*cfgFile)
	if err != nil {
		log.Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		if err := issue(provider, *issueToken); err != nil {
			log.Errorf("Failed to issue token: %v", err)
			os.Exit(1)
		}
		return
	}

	// Create and run the application
	application := app.New(provider, log.GetSugaredLogger())
	if err := application.Run(context.Background()); err != nil {
		log.Errorf("Application error: %v", err)
		os.Exit(1)
	}
}

func loadConfig(cfgFile string) (config.ConfigProvider, error) {
	filename, _ := filepath.Abs(cfgFile)

	provider := config.NewYAMLProvider(filename)
	if _, err := provider.LoadConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file. Did you pass the -config flag? Run with -h for help: %w", err)
	}

	return provider, nil
}

// issue mints a token for userID and prints it to stdout
func issue(provider config.ConfigProvider, userID string) error {
	sc, err := provider.GetStorageConfig()
	if err != nil {
		return err
	}

	db, dialect, err := database.Open(*sc)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := gormstore.New(ctx, db, dialect, gormstore.Options{})
	if err != nil {
		return err
	}

	tok, err := store.IssueToken(ctx, userID)
	if err != nil {
		return err
	}

	fmt.Println(tok.Token)
	return nil
}
