package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/BaSui01/caseflow/config"
)

// checkpointRecord 检查点数据库行
type checkpointRecord struct {
	ID        string `gorm:"primaryKey;size:128"`
	RunID     string `gorm:"index;size:64"`
	Version   int    `gorm:"index"`
	ParentID  string `gorm:"size:128"`
	State     []byte
	CreatedAt time.Time
}

func (checkpointRecord) TableName() string {
	return "checkpoints"
}

// GormStore 基于 GORM 的检查点存储，适合单机持久化部署。
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 打开数据库连接并迁移表结构。
func NewGormStore(cfg config.DatabaseConfig) (*GormStore, error) {
	if cfg.Driver != "" && cfg.Driver != "sqlite" {
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}

	db, err := gorm.Open(sqlite.Open(cfg.DSN), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	// AutoMigrate 确保表结构最新
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoints table: %w", err)
	}

	return &GormStore{db: db}, nil
}

// NewGormStoreWithDB 复用已有连接，用于测试。
func NewGormStoreWithDB(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&checkpointRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate checkpoints table: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close 关闭底层连接。
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func toRecord(snapshot *Snapshot) *checkpointRecord {
	return &checkpointRecord{
		ID:        snapshot.ID,
		RunID:     snapshot.RunID,
		Version:   snapshot.Version,
		ParentID:  snapshot.ParentID,
		State:     []byte(snapshot.State),
		CreatedAt: snapshot.CreatedAt,
	}
}

func fromRecord(record *checkpointRecord) *Snapshot {
	return &Snapshot{
		ID:        record.ID,
		RunID:     record.RunID,
		Version:   record.Version,
		ParentID:  record.ParentID,
		State:     record.State,
		CreatedAt: record.CreatedAt,
	}
}

func (s *GormStore) Save(ctx context.Context, snapshot *Snapshot) error {
	return s.db.WithContext(ctx).Save(toRecord(snapshot)).Error
}

func (s *GormStore) Load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	var record checkpointRecord
	err := s.db.WithContext(ctx).First(&record, "id = ?", snapshotID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&record), nil
}

func (s *GormStore) LoadLatest(ctx context.Context, runID string) (*Snapshot, error) {
	var record checkpointRecord
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("version DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return fromRecord(&record), nil
}

func (s *GormStore) List(ctx context.Context, runID string) ([]*Snapshot, error) {
	var records []checkpointRecord
	err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("version ASC").
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	result := make([]*Snapshot, 0, len(records))
	for i := range records {
		result = append(result, fromRecord(&records[i]))
	}
	return result, nil
}

func (s *GormStore) Delete(ctx context.Context, snapshotID string) error {
	result := s.db.WithContext(ctx).Delete(&checkpointRecord{}, "id = ?", snapshotID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *GormStore) DeleteRun(ctx context.Context, runID string) error {
	return s.db.WithContext(ctx).Delete(&checkpointRecord{}, "run_id = ?", runID).Error
}

var _ Store = (*GormStore)(nil)
