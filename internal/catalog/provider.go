package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Kocoro-lab/Shannon/go/consensus/internal/config"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/metrics"
	"github.com/Kocoro-lab/Shannon/go/consensus/internal/models"
)

// ErrEmptyCatalog is returned when a catalog file lists no models.
var ErrEmptyCatalog = errors.New("catalog contains no models")

// Provider is the read-only catalog collaborator.
type Provider interface {
	GetModels(ctx context.Context, filter Filter) ([]models.ModelProfile, error)
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// file mirrors config/models.yaml.
type file struct {
	Pricing struct {
		Defaults struct {
			CombinedPer1K float64 `yaml:"combined_per_1k"`
		} `yaml:"defaults"`
	} `yaml:"pricing"`
	Models []models.ModelProfile `yaml:"models"`
}

// Parse decodes catalog YAML into a snapshot.
func Parse(data []byte, version int64) (*Snapshot, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if len(f.Models) == 0 {
		return nil, ErrEmptyCatalog
	}
	if f.Pricing.Defaults.CombinedPer1K < 0 {
		return nil, errors.New("pricing.defaults.combined_per_1k must be >= 0")
	}
	return NewSnapshot(f.Models, f.Pricing.Defaults.CombinedPer1K, version)
}

// FileProvider serves snapshots loaded from a YAML file and can hot-reload it.
type FileProvider struct {
	path    string
	logger  *zap.Logger
	current atomic.Pointer[Snapshot]
	version atomic.Int64
}

// NewFileProvider loads path once; the initial load must succeed.
func NewFileProvider(path string, logger *zap.Logger) (*FileProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &FileProvider{path: path, logger: logger}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// Reload re-reads the file. On failure the previous snapshot stays active.
func (p *FileProvider) Reload() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("read catalog %s: %w", p.path, err)
	}
	snap, err := Parse(data, p.version.Add(1))
	if err != nil {
		metrics.CatalogReloads.WithLabelValues("error").Inc()
		return fmt.Errorf("parse catalog %s: %w", p.path, err)
	}
	p.current.Store(snap)
	metrics.CatalogReloads.WithLabelValues("success").Inc()
	metrics.CatalogModels.Set(float64(snap.Len()))
	p.logger.Info("Model catalog loaded",
		zap.String("path", p.path),
		zap.Int("models", snap.Len()),
		zap.Int64("version", snap.Version()),
	)
	return nil
}

// Watch registers the catalog file with w so edits produce a new snapshot.
func (p *FileProvider) Watch(w *config.FileWatcher) error {
	return w.Watch(p.path, func(string) error { return p.Reload() })
}

// Snapshot returns the current immutable snapshot.
func (p *FileProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.current.Load(), nil
}

// GetModels returns profiles matching filter from the current snapshot.
func (p *FileProvider) GetModels(ctx context.Context, filter Filter) ([]models.ModelProfile, error) {
	snap, err := p.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Select(filter), nil
}

// StaticProvider always serves the same snapshot.
type StaticProvider struct {
	snap *Snapshot
}

// NewStaticProvider wraps profiles in a fixed snapshot.
func NewStaticProvider(profiles []models.ModelProfile, defaultPer1K float64) (*StaticProvider, error) {
	snap, err := NewSnapshot(profiles, defaultPer1K, 1)
	if err != nil {
		return nil, err
	}
	return &StaticProvider{snap: snap}, nil
}

func (p *StaticProvider) Snapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.snap, nil
}

func (p *StaticProvider) GetModels(ctx context.Context, filter Filter) ([]models.ModelProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return p.snap.Select(filter), nil
}
