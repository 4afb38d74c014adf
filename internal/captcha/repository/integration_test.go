//go:build integration

package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmerrifield20/captcha/internal/captcha/model"
	"github.com/jmerrifield20/captcha/internal/captcha/repository"
	"github.com/redis/go-redis/v9"
)

func runID() string {
	return fmt.Sprintf("%x", time.Now().UnixNano()%0xffffff)
}

func TestPostgresChallengeRepository_contract(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(db.Close)

	repo, err := repository.NewPostgresChallengeRepository(db, "captchas_it")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	created, err := repo.EnsureSchema(ctx)
	if err != nil || created {
		t.Fatalf("second EnsureSchema: created=%v err=%v", created, err)
	}
	if v, dirty, err := repo.Version(ctx); err != nil || v != repository.SchemaVersion || dirty {
		t.Fatalf("Version = %d, %v, %v; want %d clean", v, dirty, err, repository.SchemaVersion)
	}
	db.Exec(ctx, "DELETE FROM captchas_it")

	runStoreContract(t, repo, "pg"+runID())
}

func TestPostgresChallengeRepository_migrateAndRollback(t *testing.T) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set; skipping integration test")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect to postgres: %v", err)
	}
	t.Cleanup(db.Close)

	table := "captchas_mig_" + runID()
	repo, err := repository.NewPostgresChallengeRepository(db, table)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = repo.Rollback(ctx)
		db.Exec(ctx, "DROP TABLE IF EXISTS "+repo.MigrationsTable())
	})

	applied, err := repo.Migrate(ctx)
	if err != nil || !applied {
		t.Fatalf("Migrate = %v, %v; want applied", applied, err)
	}
	if err := repo.Insert(ctx, challenge("mg"+strings.Repeat("0", 30), "1234", time.Hour)); err != nil {
		t.Fatalf("Insert after Migrate: %v", err)
	}

	if err := repo.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if v, _, err := repo.Version(ctx); err != nil || v != 0 {
		t.Fatalf("Version after Rollback = %d, %v; want 0", v, err)
	}

	if _, err := db.Exec(ctx, fmt.Sprintf("INSERT INTO %s (version, dirty) VALUES (1, true)", repo.MigrationsTable())); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.Migrate(ctx); !errors.Is(err, repository.ErrDirtySchema) {
		t.Errorf("Migrate on dirty schema = %v, want ErrDirtySchema", err)
	}
}

func TestMySQLChallengeRepository_contract(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set; skipping integration test")
	}
	ctx := context.Background()
	db, err := repository.OpenMySQL(dsn)
	if err != nil {
		t.Fatal(err)
	}
	schema := os.Getenv("MYSQL_SCHEMA")
	if schema == "" {
		schema = "captcha"
	}

	repo, err := repository.NewMySQLChallengeRepository(db, schema+".captchas_it")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := repo.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	db.Exec("DELETE FROM " + schema + ".captchas_it")

	runStoreContract(t, repo, "my"+runID())
}

func TestRedisChallengeRepository_contract(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}

	prefix := "captcha_it_" + runID()
	repo := repository.NewRedisChallengeRepository(rdb, prefix, time.Minute)
	runStoreContract(t, repo, "rd"+runID())

	t.Run("sub-millisecond expiry stays active", func(t *testing.T) {
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond).Add(100 * time.Microsecond)
		id := "rs" + runID()
		id += strings.Repeat("0", repository.IDLength-len(id))
		ch := &model.Challenge{
			ID:        id,
			ImageRef:  id + ".png",
			Code:      "1234",
			ExpiresAt: now.Add(500 * time.Microsecond),
			CreatedAt: now.Add(-time.Minute),
		}
		if err := repo.Insert(ctx, ch); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		if n, err := repo.DeleteExpired(ctx, now); err != nil || n != 0 {
			t.Fatalf("DeleteExpired = %d, %v; want 0", n, err)
		}
		if _, err := repo.GetByID(ctx, id); err != nil {
			t.Errorf("active challenge removed: %v", err)
		}
	})
}
