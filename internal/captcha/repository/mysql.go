package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmerrifield20/captcha/internal/captcha/model"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// mysqlDuplicateEntry is MySQL's ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

// captchaRow is the gorm mapping of a challenge row.
type captchaRow struct {
	ID        string    `gorm:"column:id;type:char(32);primaryKey"`
	ImageRef  string    `gorm:"column:image_ref;size:100;not null"`
	Code      string    `gorm:"column:code;size:10;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index"`
	CreatedAt time.Time `gorm:"column:created_at;not null;autoCreateTime:false"`
}

func (row *captchaRow) toModel() *model.Challenge {
	return &model.Challenge{
		ID:        row.ID,
		ImageRef:  row.ImageRef,
		Code:      row.Code,
		ExpiresAt: row.ExpiresAt,
		CreatedAt: row.CreatedAt,
	}
}

// MySQLChallengeRepository persists challenges in MySQL through gorm.
type MySQLChallengeRepository struct {
	db    *gorm.DB
	table string
}

// OpenMySQL opens a gorm connection for dsn. parseTime and UTC location are
// expected in the DSN so DATETIME columns round-trip as time.Time.
func OpenMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(gormmysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetConnMaxIdleTime(10 * time.Minute)
	return db, nil
}

// NewMySQLChallengeRepository creates a repository over tableName, which
// must be written as "schema.table".
func NewMySQLChallengeRepository(db *gorm.DB, tableName string) (*MySQLChallengeRepository, error) {
	tableName = strings.ToLower(strings.TrimSpace(tableName))
	schema, table, err := splitTableName(tableName)
	if err != nil {
		return nil, err
	}
	if schema == "" {
		return nil, fmt.Errorf("%w: %q must be schema.table", ErrInvalidTableName, tableName)
	}
	return &MySQLChallengeRepository{db: db, table: schema + "." + table}, nil
}

func (r *MySQLChallengeRepository) q(ctx context.Context) *gorm.DB {
	return r.db.WithContext(ctx).Table(r.table)
}

// EnsureSchema creates the table if it does not exist and reports whether
// it did.
func (r *MySQLChallengeRepository) EnsureSchema(ctx context.Context) (bool, error) {
	if r.db.WithContext(ctx).Migrator().HasTable(r.table) {
		return false, nil
	}
	if err := r.q(ctx).AutoMigrate(&captchaRow{}); err != nil {
		return false, fmt.Errorf("create captcha table: %w", err)
	}
	return true, nil
}

// Ping verifies the database connection.
func (r *MySQLChallengeRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Insert stores a new challenge. It fails with ErrDuplicateID when the id
// is already present.
func (r *MySQLChallengeRepository) Insert(ctx context.Context, ch *model.Challenge) error {
	id, err := checkInsertID(ch.ID)
	if err != nil {
		return err
	}
	row := captchaRow{
		ID:        id,
		ImageRef:  ch.ImageRef,
		Code:      ch.Code,
		ExpiresAt: ch.ExpiresAt.UTC(),
		CreatedAt: ch.CreatedAt.UTC(),
	}
	if err := r.q(ctx).Create(&row).Error; err != nil {
		if isMySQLDuplicate(err) {
			return ErrDuplicateID
		}
		return fmt.Errorf("insert captcha: %w", err)
	}
	return nil
}

func isMySQLDuplicate(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

// GetByID returns the challenge with the given id, ignoring case.
func (r *MySQLChallengeRepository) GetByID(ctx context.Context, id string) (*model.Challenge, error) {
	var row captchaRow
	err := r.q(ctx).Where("id = ?", normalizeID(id)).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("get captcha: %w", err)
	}
	return row.toModel(), nil
}

// ListExpired returns every challenge whose expires_at is at or before now.
func (r *MySQLChallengeRepository) ListExpired(ctx context.Context, now time.Time) ([]*model.Challenge, error) {
	var rows []captchaRow
	if err := r.q(ctx).Where("expires_at <= ?", now.UTC()).Order("expires_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list expired captchas: %w", err)
	}
	out := make([]*model.Challenge, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// DeleteByID removes a challenge. Deleting a missing id is not an error.
func (r *MySQLChallengeRepository) DeleteByID(ctx context.Context, id string) error {
	if err := r.q(ctx).Where("id = ?", normalizeID(id)).Delete(&captchaRow{}).Error; err != nil {
		return fmt.Errorf("delete captcha: %w", err)
	}
	return nil
}

// DeleteExpired removes every challenge whose expires_at is at or before
// now in a single statement and returns the number of rows deleted.
func (r *MySQLChallengeRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.q(ctx).Where("expires_at <= ?", now.UTC()).Delete(&captchaRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete expired captchas: %w", res.Error)
	}
	return res.RowsAffected, nil
}
