package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/bytedance/sonic"
	"github.com/urfave/cli/v3"
	"github.com/vedran77/bazaar/internal/config"
	"github.com/vedran77/bazaar/internal/database"
	"github.com/vedran77/bazaar/internal/logging"
	"github.com/vedran77/bazaar/internal/moderation"
	postgresrepo "github.com/vedran77/bazaar/internal/repository/postgres"
	"github.com/vedran77/bazaar/internal/service"
	"go.uber.org/zap"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	app := &cli.Command{
		Name:  "bazaar",
		Usage: "Buyer and seller messaging server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP and websocket server",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					return serve(ctx, cfg)
				},
			},
			{
				Name:  "migrate",
				Usage: "Apply the database schema",
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					return migrate(ctx, cfg)
				},
			},
			{
				Name:      "moderate",
				Usage:     "Evaluate text against the moderation rules",
				ArgsUsage: "<text>",
				Action: func(_ context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					if c.Args().Len() == 0 {
						return errors.New("text argument is required")
					}
					return moderate(cfg, c.Args().First())
				},
			},
			{
				Name:  "create-admin",
				Usage: "Create an admin account",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "username", Required: true},
					&cli.StringFlag{Name: "password", Required: true},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					cfg, err := config.Load(c.String("config"))
					if err != nil {
						return err
					}
					return createAdmin(ctx, cfg, service.RegisterInput{
						Email:       c.String("email"),
						Username:    c.String("username"),
						DisplayName: c.String("username"),
						Password:    c.String("password"),
					})
				},
			},
		},
	}

	return app.Run(context.Background(), os.Args)
}

func migrate(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("migrate requires the postgres driver, got %q", cfg.Database.Driver)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool, logger); err != nil {
		return err
	}
	logger.Info("Schema is up to date")
	return nil
}

func moderate(cfg *config.Config, text string) error {
	terms, err := bannedTerms(cfg.Moderation)
	if err != nil {
		return err
	}
	result := moderation.NewEngine(terms).Evaluate(text)

	out, err := sonic.MarshalString(result)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func createAdmin(ctx context.Context, cfg *config.Config, input service.RegisterInput) error {
	if cfg.Database.Driver != "postgres" {
		return fmt.Errorf("create-admin requires the postgres driver, got %q", cfg.Database.Driver)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	defer logger.Sync()

	pool, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := postgresrepo.NewStore(pool)
	authService := service.NewAuthService(store.Users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	resp, err := authService.CreateAdmin(ctx, input)
	if err != nil {
		return err
	}

	logger.Info("Admin created", zap.Stringer("id", resp.User.ID), zap.String("email", resp.User.Email))
	return nil
}

// bannedTerms merges the built-in list, configured terms and the optional
// wordlist file.
func bannedTerms(cfg config.Moderation) ([]string, error) {
	extra := cfg.BannedTerms
	if cfg.WordlistFile != "" {
		fromFile, err := moderation.LoadWordlist(cfg.WordlistFile)
		if err != nil {
			return nil, err
		}
		extra = append(extra, fromFile...)
	}
	return moderation.MergeTerms(moderation.DefaultBannedTerms, extra), nil
}
