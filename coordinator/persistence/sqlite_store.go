package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/taskmesh/taskmesh/types"
)

// SQLiteConfig configures the file-backed archive store.
type SQLiteConfig struct {
	// Path to the database file. ":memory:" keeps the archive in process memory.
	Path string `yaml:"path" json:"path"`

	// MaxOpenConns bounds the underlying connection pool. SQLite handles
	// a single writer, so this stays small.
	MaxOpenConns int `yaml:"max_open_conns" json:"max_open_conns"`

	// BusyTimeout is how long a statement waits on a locked database.
	BusyTimeout time.Duration `yaml:"busy_timeout" json:"busy_timeout"`
}

// DefaultSQLiteConfig returns settings suitable for a single-node archive.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{
		Path:         "taskmesh.db",
		MaxOpenConns: 4,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStore archives settled tasks in a SQLite database via GORM.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (or creates) the database at cfg.Path and migrates
// the task schema.
func NewSQLiteStore(cfg SQLiteConfig, logger *zap.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultSQLiteConfig().Path
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)",
		cfg.Path, cfg.BusyTimeout.Milliseconds())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to open archive database").WithCause(err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to access connection pool").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := db.AutoMigrate(&TaskRecord{}); err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to migrate archive schema").WithCause(err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With(zap.String("component", "sqlite_store")),
	}, nil
}

// SaveTask upserts a record keyed by its task ID.
func (s *SQLiteStore) SaveTask(ctx context.Context, rec *TaskRecord) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return types.NewError(types.ErrStoreClosed, "archive store is closed")
	}

	var existing TaskRecord
	err := s.db.WithContext(ctx).Where("task_id = ?", rec.TaskID).First(&existing).Error
	switch {
	case err == nil:
		rec.ID = existing.ID
		return s.db.WithContext(ctx).Save(rec).Error
	case errors.Is(err, gorm.ErrRecordNotFound):
		return s.db.WithContext(ctx).Create(rec).Error
	default:
		return types.NewError(types.ErrInternalError, "failed to save task record").WithCause(err).WithTask(rec.TaskID)
	}
}

// GetTask returns the archived record for a task ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "archive store is closed")
	}

	var rec TaskRecord
	err := s.db.WithContext(ctx).Where("task_id = ?", taskID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.NewError(types.ErrTaskNotFound, "task not found in archive").WithTask(taskID)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to load task record").WithCause(err).WithTask(taskID)
	}
	return &rec, nil
}

// ListTasks returns archived records matching the filter, newest first.
func (s *SQLiteStore) ListTasks(ctx context.Context, filter Filter) ([]*TaskRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "archive store is closed")
	}

	q := s.db.WithContext(ctx).Model(&TaskRecord{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Worker != "" {
		q = q.Where("assigned_worker = ?", filter.Worker)
	}
	if filter.Priority != "" {
		q = q.Where("priority = ?", filter.Priority)
	}
	if filter.SettledAfter != nil {
		q = q.Where("settled_at >= ?", *filter.SettledAfter)
	}
	if filter.SettledBefore != nil {
		q = q.Where("settled_at < ?", *filter.SettledBefore)
	}
	q = q.Order("settled_at DESC")
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []*TaskRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to list task records").WithCause(err)
	}
	return recs, nil
}

// Cleanup deletes records settled before the retention window and reports
// how many were removed.
func (s *SQLiteStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, types.NewError(types.ErrStoreClosed, "archive store is closed")
	}

	cutoff := time.Now().Add(-olderThan)
	res := s.db.WithContext(ctx).Where("settled_at < ?", cutoff).Delete(&TaskRecord{})
	if res.Error != nil {
		return 0, types.NewError(types.ErrInternalError, "failed to clean up archive").WithCause(res.Error)
	}
	removed := int(res.RowsAffected)
	if removed > 0 {
		s.logger.Info("archive cleanup complete",
			zap.Int("removed", removed),
			zap.Time("cutoff", cutoff))
	}
	return removed, nil
}

// Stats reports archive totals grouped by status and worker.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, types.NewError(types.ErrStoreClosed, "archive store is closed")
	}

	stats := &Stats{
		StatusCounts: make(map[string]int64),
		WorkerCounts: make(map[string]int64),
	}

	type groupCount struct {
		Key string
		N   int64
	}

	var byStatus []groupCount
	err := s.db.WithContext(ctx).Model(&TaskRecord{}).
		Select("status AS key, COUNT(*) AS n").
		Group("status").
		Scan(&byStatus).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to compute archive stats").WithCause(err)
	}
	for _, row := range byStatus {
		stats.StatusCounts[row.Key] = row.N
		stats.TotalTasks += row.N
	}

	var byWorker []groupCount
	err = s.db.WithContext(ctx).Model(&TaskRecord{}).
		Select("assigned_worker AS key, COUNT(*) AS n").
		Where("assigned_worker <> ''").
		Group("assigned_worker").
		Scan(&byWorker).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to compute archive stats").WithCause(err)
	}
	for _, row := range byWorker {
		stats.WorkerCounts[row.Key] = row.N
	}

	var handoffs struct {
		Total int64
	}
	err = s.db.WithContext(ctx).Model(&TaskRecord{}).
		Select("COALESCE(SUM(handoffs), 0) AS total").
		Scan(&handoffs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to compute archive stats").WithCause(err)
	}
	stats.TotalHandoffs = handoffs.Total

	if stats.TotalTasks > 0 {
		var bounds struct {
			Oldest time.Time
			Newest time.Time
		}
		err = s.db.WithContext(ctx).Model(&TaskRecord{}).
			Select("MIN(settled_at) AS oldest, MAX(settled_at) AS newest").
			Scan(&bounds).Error
		if err != nil {
			return nil, types.NewError(types.ErrInternalError, "failed to compute archive stats").WithCause(err)
		}
		stats.OldestSettled = &bounds.Oldest
		stats.NewestSettled = &bounds.Newest
	}

	return stats, nil
}

// Close releases the underlying connection pool.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
