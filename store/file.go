package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/Bucknalla/go-gps-tilemap/tilemap"
)

const snapshotExt = ".mrk"

// zstdMagic starts every zstd frame. Files without it are plain msgpack.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	decoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
)

// encodeSnapshot returns the compressed msgpack form of snap.
func encodeSnapshot(snap tilemap.Snapshot) ([]byte, error) {
	data, err := tilemap.MarshalSnapshot(snap)
	if err != nil {
		return nil, err
	}
	return encoder.EncodeAll(data, nil), nil
}

func decodeSnapshot(data []byte) (tilemap.Snapshot, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		raw, err := decoder.DecodeAll(data, nil)
		if err != nil {
			return tilemap.Snapshot{}, fmt.Errorf("failed to decompress snapshot: %w", err)
		}
		data = raw
	}
	return tilemap.UnmarshalSnapshot(data)
}

// FileStore keeps one zstd compressed msgpack snapshot file per map in a
// directory. Uncompressed snapshot files are still read.
type FileStore struct {
	dir string
}

// NewFileStore creates dir if needed and returns a store over it.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.dir, name+snapshotExt)
}

// Save writes snap, replacing any earlier snapshot of the same map. The file
// is written under a temporary name and renamed into place.
func (f *FileStore) Save(_ context.Context, snap tilemap.Snapshot) error {
	if err := validName(snap.Frame.Name); err != nil {
		return err
	}
	data, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(f.dir, snap.Frame.Name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(snap.Frame.Name))
}

// Load reads the named map.
func (f *FileStore) Load(_ context.Context, name string) (tilemap.Snapshot, error) {
	if err := validName(name); err != nil {
		return tilemap.Snapshot{}, err
	}
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return tilemap.Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return tilemap.Snapshot{}, err
	}
	return decodeSnapshot(data)
}

// List returns every readable map in the directory sorted by name.
func (f *FileStore) List(_ context.Context) ([]MapInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var maps []MapInfo
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), snapshotExt) {
			continue
		}
		data, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		snap, err := decodeSnapshot(data)
		if err != nil {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		maps = append(maps, infoOf(snap, fi.ModTime()))
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].Name < maps[j].Name })
	return maps, nil
}

// Delete removes the named map.
func (f *FileStore) Delete(_ context.Context, name string) error {
	if err := validName(name); err != nil {
		return err
	}
	err := os.Remove(f.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return err
}

// Close is a no-op.
func (f *FileStore) Close() error {
	return nil
}
