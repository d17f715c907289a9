package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/Bucknalla/go-gps-tilemap/tilemap"
)

// MapRecord is one stored map. Snapshot holds the msgpack encoded session;
// Summary repeats the counts shown in listings so they can be read without
// decoding the snapshot.
type MapRecord struct {
	ID        uint           `gorm:"primarykey"`
	Name      string         `gorm:"uniqueIndex;not null"`
	Version   int            `gorm:"not null"`
	Snapshot  []byte         `gorm:"not null"`
	Summary   datatypes.JSON `json:"summary"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

type mapSummary struct {
	Markers     int     `json:"markers"`
	Waypoints   int     `json:"waypoints"`
	Declination float64 `json:"declination"`
	HasCar      bool    `json:"has_car"`
	HasGpsRef   bool    `json:"has_gps_ref"`
}

// SQLStore keeps maps in a SQLite database through gorm.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore opens (creating if needed) the SQLite database at path. An
// empty path opens a private in-memory database.
func NewSQLStore(path string) (*SQLStore, error) {
	if path == "" {
		path = "file::memory:"
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open map database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// a memory database exists per connection
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&MapRecord{}); err != nil {
		return nil, fmt.Errorf("failed to migrate map database: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Save inserts or replaces the snapshot for its map.
func (s *SQLStore) Save(ctx context.Context, snap tilemap.Snapshot) error {
	if err := validName(snap.Frame.Name); err != nil {
		return err
	}
	data, err := tilemap.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	summary, err := json.Marshal(mapSummary{
		Markers:     len(snap.Markers),
		Waypoints:   len(snap.Waypoints),
		Declination: snap.Frame.Declination,
		HasCar:      snap.Car != nil,
		HasGpsRef:   snap.GpsRef != nil,
	})
	if err != nil {
		return err
	}
	rec := MapRecord{
		Name:     snap.Frame.Name,
		Version:  snap.Version,
		Snapshot: data,
		Summary:  datatypes.JSON(summary),
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"version", "snapshot", "summary", "updated_at"}),
	}).Create(&rec).Error
}

// Load reads the named map.
func (s *SQLStore) Load(ctx context.Context, name string) (tilemap.Snapshot, error) {
	var rec MapRecord
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return tilemap.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return tilemap.Snapshot{}, err
	}
	return tilemap.UnmarshalSnapshot(rec.Snapshot)
}

// List returns every stored map sorted by name.
func (s *SQLStore) List(ctx context.Context) ([]MapInfo, error) {
	var recs []MapRecord
	if err := s.db.WithContext(ctx).Omit("snapshot").Order("name").Find(&recs).Error; err != nil {
		return nil, err
	}
	maps := make([]MapInfo, 0, len(recs))
	for _, rec := range recs {
		var sum mapSummary
		if len(rec.Summary) > 0 {
			if err := json.Unmarshal(rec.Summary, &sum); err != nil {
				return nil, fmt.Errorf("map %s: bad summary: %w", rec.Name, err)
			}
		}
		maps = append(maps, MapInfo{
			Name:      rec.Name,
			Markers:   sum.Markers,
			Waypoints: sum.Waypoints,
			UpdatedAt: rec.UpdatedAt,
		})
	}
	return maps, nil
}

// Delete removes the named map.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	res := s.db.WithContext(ctx).Where("name = ?", name).Delete(&MapRecord{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
