// Command planterctl provisions users and plots.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"go.uber.org/zap"

	"planter-backend/config"
	"planter-backend/internal/auth"
	"planter-backend/internal/db"
	"planter-backend/internal/model"
	"planter-backend/internal/store"
)

const usage = `usage: planterctl <command> [flags]

commands:
  add-user  -name NAME -password PASSWORD
  add-plot  -user-uuid UUID -name NAME [-limit1 N] [-limit2 N] [-interval SECONDS]
`

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("failed to load .env: %v", err)
	}
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("planterctl needs a persistent database driver")
	}

	gormDB, err := db.Init(&cfg.Database, zap.NewNop())
	if err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	if err := run(context.Background(), store.NewGormStore(gormDB), os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, s store.Store, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New(usage)
	}
	switch args[0] {
	case "add-user":
		return addUser(ctx, s, args[1:], out)
	case "add-plot":
		return addPlot(ctx, s, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func addUser(ctx context.Context, s store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add-user", flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "user name")
	password := fs.String("password", "", "user password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *password == "" {
		return errors.New("add-user: -name and -password are required")
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{UUID: auth.NewUserUUID(), Name: *name, PasswordHash: hash}
	if err := s.CreateUser(ctx, user); err != nil {
		return err
	}
	fmt.Fprintf(out, "user %s created with uuid %s\n", user.Name, user.UUID)
	return nil
}

func addPlot(ctx context.Context, s store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add-plot", flag.ContinueOnError)
	fs.SetOutput(out)
	userUUID := fs.String("user-uuid", "", "owner uuid")
	name := fs.String("name", "", "plot name")
	limit1 := fs.Int("limit1", 0, "soil moisture limit for pump 1")
	limit2 := fs.Int("limit2", 0, "soil moisture limit for pump 2")
	interval := fs.Int("interval", 600, "device polling interval in seconds")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userUUID == "" || *name == "" {
		return errors.New("add-plot: -user-uuid and -name are required")
	}
	if *interval <= 0 {
		return errors.New("add-plot: -interval must be positive")
	}

	user, err := s.FindUserByUUID(ctx, *userUUID)
	if err != nil {
		return err
	}
	key, err := auth.NewAPIKey()
	if err != nil {
		return fmt.Errorf("generate api key: %w", err)
	}
	plot := &model.Plot{UserID: user.ID, Name: *name, APIKey: key}
	settings := &model.IrrigationSettings{UpdateInterval: *interval, Limit1: *limit1, Limit2: *limit2}
	if err := s.CreatePlot(ctx, plot, settings); err != nil {
		return err
	}
	fmt.Fprintf(out, "plot %d (%s) created, api key %s\n", plot.ID, plot.Name, plot.APIKey)
	return nil
}
