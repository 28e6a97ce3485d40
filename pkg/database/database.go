package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/iziplay/xeno-corpus/pkg/xenocanto"
	"github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DB is the GORM database instance. It stays nil when Postgres is not
// configured, in which case the catalog and run history are not kept.
var DB *gorm.DB

// Configured reports whether a Postgres host is set in the environment
func Configured() bool {
	return os.Getenv("POSTGRES_HOST") != ""
}

// Enabled reports whether Connect succeeded
func Enabled() bool {
	return DB != nil
}

// DSN builds the connection string from the POSTGRES_* variables
func DSN() string {
	port := os.Getenv("POSTGRES_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		os.Getenv("POSTGRES_HOST"),
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		os.Getenv("POSTGRES_DATABASE"),
		port,
	)
}

// Connect opens the database, configures the pool and migrates the schema
func Connect() error {
	db, err := gorm.Open(postgres.Open(DSN()), &gorm.Config{
		Logger: logger.New(
			log.Default(),
			logger.Config{
				SlowThreshold:             10 * time.Second,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: "xc_",
		},
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)

	DB = db
	slog.Info("Database connection established")

	return AutoMigrate()
}

// AutoMigrate runs automatic migration for all models
func AutoMigrate() error {
	slog.Info("Running auto migration...")

	err := DB.AutoMigrate(
		&Recording{},
		&Acquisition{},
	)
	if err != nil {
		return fmt.Errorf("auto migration failed: %w", err)
	}

	slog.Info("Auto migration completed successfully")
	return nil
}

// Ping checks the database connection
func Ping() error {
	if DB == nil {
		return errors.New("database not connected")
	}
	sqlDB, err := DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// sanitizeString removes null bytes which PostgreSQL rejects in text fields
func sanitizeString(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}

// NewRecording maps an upstream recording to its catalog row
func NewRecording(r xenocanto.Recording, classID int, acquisition string) Recording {
	also := make([]string, len(r.Also))
	for i, a := range r.Also {
		also[i] = sanitizeString(a)
	}

	return Recording{
		ID:          sanitizeString(r.ID),
		Species:     sanitizeString(r.En),
		ClassID:     classID,
		Genus:       sanitizeString(r.Genus),
		Epithet:     sanitizeString(r.Species),
		Country:     sanitizeString(r.Country),
		Locality:    sanitizeString(r.Locality),
		Type:        sanitizeString(r.Type),
		License:     sanitizeString(r.License),
		URL:         sanitizeString(r.URL),
		FileName:    sanitizeString(r.FileName),
		Quality:     sanitizeString(r.Quality),
		Length:      sanitizeString(r.Length),
		SampleRate:  sanitizeString(r.SampleRate),
		Also:        pq.StringArray(also),
		Acquisition: acquisition,
	}
}

// UpsertRecordings creates or updates the catalog rows of every recording of
// page. Recordings whose species is not in the map are ignored.
func UpsertRecordings(ctx context.Context, acquisition string, page *xenocanto.Page, species xenocanto.SpeciesMap) (int, error) {
	records := make([]Recording, 0, len(page.Recordings))
	for _, r := range page.Recordings {
		classID, ok := species.ID(r.En)
		if !ok {
			continue
		}
		records = append(records, NewRecording(r, classID, acquisition))
	}
	if len(records) == 0 {
		return 0, nil
	}

	// Upsert the recordings using ON CONFLICT
	err := DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"species", "class_id", "genus", "epithet", "country", "locality", "type",
			"license", "url", "file_name", "quality", "length", "sample_rate", "also",
			"acquisition", "updated_at",
		}),
	}).CreateInBatches(&records, 500).Error
	if err != nil {
		return 0, fmt.Errorf("failed to upsert recordings: %w", err)
	}

	return len(records), nil
}

// StartAcquisition stores a new, incomplete acquisition run
func StartAcquisition(ctx context.Context, a *Acquisition) error {
	if err := DB.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("failed to store acquisition: %w", err)
	}
	return nil
}

// FinishAcquisition saves the counters of a run
func FinishAcquisition(ctx context.Context, a *Acquisition) error {
	if err := DB.WithContext(ctx).Save(a).Error; err != nil {
		return fmt.Errorf("failed to update acquisition: %w", err)
	}
	return nil
}

// LastAcquisition returns the latest run, complete or not
func LastAcquisition(ctx context.Context) (*Acquisition, error) {
	var a Acquisition
	if err := DB.WithContext(ctx).Order("date DESC").First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}
