package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"filevault/pkg/domain"
)

const migrateLockID int64 = 51842071

// GormStore implements Store using GORM. PostgreSQL in production; any
// dialector gorm supports works for tests.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore opens the PostgreSQL database and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), GormConfig())
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	return NewGormStoreFromDB(db)
}

// GormConfig is the gorm configuration shared by every dialector: UTC
// timestamps, translated constraint errors and a quiet logger.
func GormConfig() *gorm.Config {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	return &gorm.Config{
		Logger:         gormLog,
		TranslateError: true,
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}
}

// NewGormStoreFromDB migrates the schema on an already opened handle.
func NewGormStoreFromDB(db *gorm.DB) (*GormStore, error) {
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&UserModel{}, &PasscodeModel{}, &SessionModel{}, &FileModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// withMigrationLock serializes migrations across replicas with a PostgreSQL
// advisory lock. Other dialects migrate without locking.
func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	if db.Dialector.Name() != "postgres" {
		return fn(db)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// Ping checks database connectivity.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close releases the connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithTx runs fn in a database transaction.
func (s *GormStore) WithTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx})
	})
}

// CreateUser inserts a new user. A taken email yields ErrDuplicateEmail.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	if err := s.db.WithContext(ctx).Create(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateEmail
		}
		return err
	}
	return nil
}

// GetUserByID returns a user by internal id.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	return s.firstUser(ctx, "id = ?", id)
}

// GetUserByEmail looks up a user by normalized email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	return s.firstUser(ctx, "email = ?", domain.NormalizeEmail(email))
}

// GetUserByAccountID looks up a user by public account id.
func (s *GormStore) GetUserByAccountID(ctx context.Context, accountID string) (domain.User, bool, error) {
	return s.firstUser(ctx, "account_id = ?", accountID)
}

func (s *GormStore) firstUser(ctx context.Context, query string, arg string) (domain.User, bool, error) {
	if arg == "" {
		return domain.User{}, false, nil
	}
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// CreatePasscode stores a hashed passcode.
func (s *GormStore) CreatePasscode(ctx context.Context, p domain.Passcode) error {
	model := passcodeToModel(p)
	return s.db.WithContext(ctx).Create(&model).Error
}

// ListActivePasscodes returns the user's passcodes expiring after now,
// newest first.
func (s *GormStore) ListActivePasscodes(ctx context.Context, userID string, now time.Time) ([]domain.Passcode, error) {
	var models []PasscodeModel
	if err := s.db.WithContext(ctx).
		Where("user_id = ? AND expires_at > ?", userID, now.UTC()).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Passcode, 0, len(models))
	for _, m := range models {
		res = append(res, passcodeFromModel(m))
	}
	return res, nil
}

// DeletePasscode removes one passcode and reports whether it was still
// there.
func (s *GormStore) DeletePasscode(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&PasscodeModel{}, "id = ?", id)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateSession persists a session row.
func (s *GormStore) CreateSession(ctx context.Context, sess domain.Session) error {
	model := sessionToModel(sess)
	return s.db.WithContext(ctx).Create(&model).Error
}

// GetSessionByTokenHash resolves a cookie token hash to its session.
func (s *GormStore) GetSessionByTokenHash(ctx context.Context, tokenHash string) (domain.Session, bool, error) {
	if tokenHash == "" {
		return domain.Session{}, false, nil
	}
	var model SessionModel
	if err := s.db.WithContext(ctx).Where("token_hash = ?", tokenHash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Session{}, false, nil
		}
		return domain.Session{}, false, err
	}
	return sessionFromModel(model), true, nil
}

// DeleteSessionByTokenHash removes the session if present.
func (s *GormStore) DeleteSessionByTokenHash(ctx context.Context, tokenHash string) error {
	return s.db.WithContext(ctx).Delete(&SessionModel{}, "token_hash = ?", tokenHash).Error
}

// SaveFile inserts or fully updates a file record.
func (s *GormStore) SaveFile(ctx context.Context, f domain.File) error {
	model := fileToModel(f)
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"owner_id", "account_id", "name", "storage_key", "type", "extension",
			"size", "share_token", "users", "updated_at",
		}),
	}).Create(&model).Error
}

// GetFile returns a file by id.
func (s *GormStore) GetFile(ctx context.Context, id string) (domain.File, bool, error) {
	return s.firstFile(ctx, "id = ?", id)
}

// GetFileByShareToken returns the file published under token.
func (s *GormStore) GetFileByShareToken(ctx context.Context, token string) (domain.File, bool, error) {
	return s.firstFile(ctx, "share_token = ?", token)
}

func (s *GormStore) firstFile(ctx context.Context, query, arg string) (domain.File, bool, error) {
	if arg == "" {
		return domain.File{}, false, nil
	}
	var model FileModel
	if err := s.db.WithContext(ctx).Where(query, arg).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.File{}, false, nil
		}
		return domain.File{}, false, err
	}
	return fileFromModel(model), true, nil
}

// ListFilesByAccount returns an account's files, newest first.
func (s *GormStore) ListFilesByAccount(ctx context.Context, accountID string) ([]domain.File, error) {
	var models []FileModel
	if err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.File, 0, len(models))
	for _, m := range models {
		res = append(res, fileFromModel(m))
	}
	return res, nil
}

// DeleteFile removes a file record.
func (s *GormStore) DeleteFile(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Delete(&FileModel{}, "id = ?", id).Error
}
