// Command migrate manages the captcha Postgres schema described by the
// captchad config file. It applies the same DDL that storage.auto_migrate
// runs at startup and records the version in the golang-migrate layout.
//
// Usage:
//
//	migrate [--config captcha.yaml] [up|down|version|print]
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/captcha/internal/captcha/repository"
	"github.com/jmerrifield20/captcha/internal/config"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	timeout time.Duration
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Manage the captcha Postgres schema",
	SilenceUsage: true,
	RunE:         runUp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", os.Getenv("CAPTCHA_CONFIG"), "captchad config file")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "database timeout")

	rootCmd.AddCommand(upCmd, downCmd, versionCmd, printCmd)
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create the challenge table and record the schema version",
	Args:  cobra.NoArgs,
	RunE:  runUp,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Drop the challenge table and clear the schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd.Context(), func(ctx context.Context, repo *repository.PostgresChallengeRepository) error {
			if err := repo.Rollback(ctx); err != nil {
				return err
			}
			fmt.Println("rolled back to version 0")
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the recorded schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRepo(cmd.Context(), func(ctx context.Context, repo *repository.PostgresChallengeRepository) error {
			v, dirty, err := repo.Version(ctx)
			if err != nil {
				return err
			}
			if dirty {
				fmt.Printf("%d (dirty)\n", v)
				return nil
			}
			fmt.Println(v)
			return nil
		})
	},
}

var printCmd = &cobra.Command{
	Use:   "print",
	Short: "Print the up and down DDL without connecting",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := repoFromConfig(nil)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "-- up (version %d)\n%s\n-- down\n%s\n", repository.SchemaVersion, repo.Schema(), repo.DropSchema())
		return nil
	},
}

func runUp(cmd *cobra.Command, args []string) error {
	return withRepo(cmd.Context(), func(ctx context.Context, repo *repository.PostgresChallengeRepository) error {
		applied, err := repo.Migrate(ctx)
		if err != nil {
			return err
		}
		if applied {
			fmt.Printf("migrated to version %d\n", repository.SchemaVersion)
		} else {
			fmt.Println("nothing to migrate, already up to date")
		}
		return nil
	})
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		return nil, fmt.Errorf("storage.driver is %q; migrate only manages %q", cfg.Storage.Driver, config.DriverPostgres)
	}
	return cfg, nil
}

// repoFromConfig builds the repository named by storage.table. db may be nil
// when only the DDL is needed.
func repoFromConfig(db *pgxpool.Pool) (*repository.PostgresChallengeRepository, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return repository.NewPostgresChallengeRepository(db, cfg.Storage.Table)
}

func withRepo(parent context.Context, fn func(context.Context, *repository.PostgresChallengeRepository) error) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Storage.DatabaseURL == "" {
		return fmt.Errorf("storage.database_url is required")
	}

	db, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer db.Close()
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}

	repo, err := repository.NewPostgresChallengeRepository(db, cfg.Storage.Table)
	if err != nil {
		return err
	}
	return fn(ctx, repo)
}
