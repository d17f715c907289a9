// Package store persists map sessions as versioned snapshots.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Bucknalla/go-gps-tilemap/tilemap"
)

var (
	ErrNotFound    = errors.New("map not found")
	ErrInvalidName = errors.New("invalid map name")
)

// MapInfo describes a stored map.
type MapInfo struct {
	Name      string    `json:"name"`
	Markers   int       `json:"markers"`
	Waypoints int       `json:"waypoints"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store saves and loads map snapshots by map name.
type Store interface {
	Save(ctx context.Context, snap tilemap.Snapshot) error
	Load(ctx context.Context, name string) (tilemap.Snapshot, error)
	List(ctx context.Context) ([]MapInfo, error)
	Delete(ctx context.Context, name string) error
	Close() error
}

// Open returns the store selected by driver ("file" or "sqlite") rooted at
// dir.
func Open(driver, dir string) (Store, error) {
	switch driver {
	case "", "file":
		return NewFileStore(dir)
	case "sqlite":
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
		}
		return NewSQLStore(filepath.Join(dir, "maps.db"))
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func infoOf(snap tilemap.Snapshot, updated time.Time) MapInfo {
	return MapInfo{
		Name:      snap.Frame.Name,
		Markers:   len(snap.Markers),
		Waypoints: len(snap.Waypoints),
		UpdatedAt: updated,
	}
}

// LoadSession loads the named map, or creates a fresh session for frame
// when the store has no such map.
func LoadSession(ctx context.Context, st Store, frame tilemap.MapFrame) (*tilemap.Session, error) {
	snap, err := st.Load(ctx, frame.Name)
	if errors.Is(err, ErrNotFound) {
		return tilemap.NewSession(frame, nil), nil
	}
	if err != nil {
		return nil, err
	}
	return tilemap.SessionFromSnapshot(snap)
}
