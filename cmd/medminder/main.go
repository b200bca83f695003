package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/gmsas95/medminder/internal/app"
	"github.com/gmsas95/medminder/internal/cli"
	"github.com/gmsas95/medminder/internal/config"
	"github.com/gmsas95/medminder/internal/logging"
	"github.com/gmsas95/medminder/internal/store"
	"go.uber.org/zap"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	dataDir    = flag.String("data", "", "Path to data directory")
	version    = "dev"
)

func main() {
	flag.Usage = cli.PrintHelp
	flag.Parse()

	command := flag.Arg(0)
	args := flag.Args()
	if len(args) > 0 {
		args = args[1:]
	}

	switch command {
	case "help", "--help", "-h":
		cli.PrintHelp()
		return
	case "version", "--version", "-v":
		fmt.Printf("medminder version %s\n", version)
		return
	case "doctor":
		if issues := cli.HandleDoctorCommand(*configPath, *dataDir, cli.NewOutput(os.Stdout)); issues > 0 {
			os.Exit(1)
		}
		return
	}

	application, cleanup := initApp(command)
	defer cleanup()

	if command == "" || command == "serve" {
		if err := application.RunServer(*configPath); err != nil {
			application.Logger.Error("Server stopped", zap.Error(err))
			cleanup()
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := cli.Run(ctx, application, command, args, cli.NewOutput(os.Stdout))
	stop()
	if code != 0 {
		cleanup()
		os.Exit(code)
	}
}

func initApp(command string) (*app.App, func()) {
	cfg, err := config.Load(*configPath, *dataDir)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// one-shot commands keep the terminal quiet
	if command != "" && command != "serve" && cfg.Logging.Level == "info" {
		cfg.Logging.Level = "warn"
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("Starting Medicine Reminder",
		zap.String("version", version),
		zap.String("data_dir", cfg.Storage.DataDir),
	)

	st, err := store.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}

	return app.New(cfg, st, logger, version), func() {
		st.Close()
		logger.Sync()
	}
}
