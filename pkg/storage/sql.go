package storage

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// SQLConfig selects and tunes the relational backend.
type SQLConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	// DSN is the sqlite file path or the postgres connection string.
	DSN string
	// BatchSize bounds the rows per INSERT statement (defaults to 500).
	BatchSize int
	// Debug enables gorm statement logging.
	Debug bool
}

var observationKeyColumns = []clause.Column{{Name: "ts"}, {Name: "latitude"}, {Name: "longitude"}}

// SQLStore is an ObservationStore backed by gorm. The composite primary key
// (ts, latitude, longitude) makes the identity key unique at the database
// level, so concurrent merges of the same key cannot both land.
type SQLStore struct {
	db        *gorm.DB
	batchSize int
}

// OpenSQLStore connects to the configured database and migrates the schema.
func OpenSQLStore(ctx context.Context, cfg SQLConfig) (*SQLStore, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite database path cannot be empty")
		}
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	level := gormlogger.Silent
	if cfg.Debug {
		level = gormlogger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), gormlogger.Config{
			SlowThreshold: time.Second,
			LogLevel:      level,
		}),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", cfg.Driver, ErrUnavailable, err)
	}

	s := NewSQLStore(db, cfg.BatchSize)
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an already opened gorm handle. The schema is not touched.
func NewSQLStore(db *gorm.DB, batchSize int) *SQLStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &SQLStore{db: db, batchSize: batchSize}
}

// Migrate creates the raw and feature tables when missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&Observation{}, &FeatureRecord{}); err != nil {
		return unavailable("migrate", err)
	}
	return nil
}

func (s *SQLStore) InsertIfAbsent(ctx context.Context, obs []Observation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	rows := make([]Observation, len(obs))
	for i, o := range obs {
		o.Timestamp = o.Timestamp.UTC()
		rows[i] = o
	}

	var inserted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{Columns: observationKeyColumns, DoNothing: true}).
			CreateInBatches(&rows, s.batchSize)
		if res.Error != nil {
			return res.Error
		}
		inserted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, unavailable("insert observations", err)
	}
	return int(inserted), nil
}

func (s *SQLStore) All(ctx context.Context) ([]Observation, error) {
	var rows []Observation
	err := s.db.WithContext(ctx).
		Order("ts ASC, latitude ASC, longitude ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("read observations", err)
	}
	return normalizeRead(rows), nil
}

func (s *SQLStore) ForLocation(ctx context.Context, loc Location) ([]Observation, error) {
	var rows []Observation
	err := s.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", loc.Latitude, loc.Longitude).
		Order("ts ASC").
		Find(&rows).Error
	if err != nil {
		return nil, unavailable("read location", err)
	}
	return normalizeRead(rows), nil
}

func (s *SQLStore) DeleteLocation(ctx context.Context, loc Location) (int, error) {
	res := s.db.WithContext(ctx).
		Where("latitude = ? AND longitude = ?", loc.Latitude, loc.Longitude).
		Delete(&Observation{})
	if res.Error != nil {
		return 0, unavailable("delete location", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (s *SQLStore) DeleteAll(ctx context.Context) (int, error) {
	res := s.db.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&Observation{})
	if res.Error != nil {
		return 0, unavailable("delete all", res.Error)
	}
	return int(res.RowsAffected), nil
}

// ReplaceFeatures swaps the content of the feature mirror table for recs.
func (s *SQLStore) ReplaceFeatures(ctx context.Context, recs []FeatureRecord) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&FeatureRecord{}).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}
		return tx.CreateInBatches(&recs, s.batchSize).Error
	})
	if err != nil {
		return unavailable("replace features", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return unavailable("ping", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func normalizeRead(rows []Observation) []Observation {
	for i := range rows {
		rows[i].Timestamp = rows[i].Timestamp.UTC()
	}
	return rows
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
