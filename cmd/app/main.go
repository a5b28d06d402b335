package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"pharmacy-delivery/internal/config"
	"pharmacy-delivery/internal/mylogger"
	trackingservice "pharmacy-delivery/internal/tracking-service"
	"pharmacy-delivery/internal/tracking-service/adapters/driver/myhttp/middleware"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: app <tracking-service|migrate|token> [-config file.yaml] [-port N] [-user id -role ROLE -ttl 24h]")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	port := cmd.Int("port", 0, "HTTP port, overrides TRACKING_SERVICE_PORT")
	configFile := cmd.String("config", os.Getenv("CONFIG_FILE"), "optional YAML config overlay")
	userID := cmd.String("user", "", "token: user id")
	role := cmd.String("role", string(model.RoleDriver), "token: DRIVER, DISPATCHER, ADMIN, CUSTOMER or SYSTEM")
	ttl := cmd.Duration("ttl", 24*time.Hour, "token: lifetime")
	if err := cmd.Parse(os.Args[2:]); err != nil {
		log.Fatalf("Failed to parse flags: %v", err)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *port > 0 {
		cfg.Srv.TrackingServicePort = fmt.Sprint(*port)
	}

	appLogger, err := mylogger.New(cfg.Log.Level)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	switch os.Args[1] {
	case "tracking-service":
		appLogger.Action("tracking_service_started").Info("Pharmacy delivery tracking starting up")
		err = trackingservice.Execute(ctx, appLogger, cfg)
	case "migrate":
		err = trackingservice.Migrate(ctx, appLogger, cfg)
	case "token":
		var tok string
		tok, err = middleware.IssueToken(cfg.Auth.JwtSecret, model.Actor{ID: *userID, Role: model.Role(*role)}, *ttl)
		if err == nil {
			fmt.Println(tok)
		}
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		appLogger.Error("command failed", err, "command", os.Args[1])
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.New()
	}
	return config.NewFromYAML(path)
}
