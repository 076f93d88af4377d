package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/types"
)

// SampleRecord is the TimescaleDB row mirroring one station sample.
type SampleRecord struct {
	StationID      string    `gorm:"index:idx_station_ts,not null"`
	Timestamp      time.Time `gorm:"index:idx_station_ts,not null"`
	Status         string    `gorm:"not null"`
	UserCount      int       `gorm:"not null"`
	FixedUserCount int       `gorm:"not null"`
}

func (SampleRecord) TableName() string {
	return "station_samples"
}

// TimescaleDBEngine mirrors samples into a TimescaleDB/Postgres table.
type TimescaleDBEngine struct {
	db *gorm.DB
}

// NewTimescaleDBEngine connects and migrates the mirror table.
func NewTimescaleDBEngine(connectionString string) (*TimescaleDBEngine, error) {
	dbLogger := gormlogger.New(
		zap.NewStdLog(log.GetSugaredLogger().Desugar()),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		},
	)

	log.Info("connecting to TimescaleDB mirror...")
	db, err := gorm.Open(postgres.Open(connectionString), &gorm.Config{Logger: dbLogger})
	if err != nil {
		return nil, fmt.Errorf("unable to create a TimescaleDB connection: %w", err)
	}

	if err := db.AutoMigrate(SampleRecord{}); err != nil {
		return nil, fmt.Errorf("error creating or migrating station_samples table: %w", err)
	}
	log.Info("TimescaleDB mirror connection successful")

	return &TimescaleDBEngine{db: db}, nil
}

// StartStorageEngine launches the consumer goroutine and returns its channel.
func (t *TimescaleDBEngine) StartStorageEngine(ctx context.Context, wg *sync.WaitGroup) chan<- types.Sample {
	c := make(chan types.Sample, 64)
	wg.Add(1)
	go t.processSamples(ctx, wg, c)
	return c
}

func (t *TimescaleDBEngine) processSamples(ctx context.Context, wg *sync.WaitGroup, c <-chan types.Sample) {
	defer wg.Done()

	for {
		select {
		case s := <-c:
			record := SampleRecord{
				StationID:      s.StationID,
				Timestamp:      s.Timestamp,
				Status:         string(s.Status),
				UserCount:      s.UserCount,
				FixedUserCount: s.FixedUserCount,
			}
			if err := t.db.WithContext(ctx).Create(&record).Error; err != nil {
				log.Errorf("error mirroring sample for %s to TimescaleDB: %v", s.StationID, err)
			}
		case <-ctx.Done():
			return
		}
	}
}
