package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/seisbench/internal/order"
)

// Defaults applied by the Get* accessors when a field is unset.
const (
	DefaultComponentOrder       = "ZNE"
	DefaultDimensionOrder       = "NCW"
	DefaultNativeComponentOrder = "ZNE"
	DefaultPreloadWorkers       = 4
)

// DatasetConfig controls how a dataset serves waveforms. Fields are pointers
// so that partial JSON files keep the defaults for anything they omit.
type DatasetConfig struct {
	// Channel axis order of returned waveforms.
	ComponentOrder *string `json:"component_order,omitempty"`
	// Axis order of returned blocks, a permutation of N (trace), C (channel)
	// and W (sample).
	DimensionOrder *string `json:"dimension_order,omitempty"`
	// Channel order of stored traces when the metadata has no
	// trace_component_order column.
	NativeComponentOrder *string `json:"native_component_order,omitempty"`

	// Cache behaviour
	Cache          *bool `json:"cache,omitempty"`
	LazyLoad       *bool `json:"lazyload,omitempty"`
	PreloadWorkers *int  `json:"preload_workers,omitempty"`
}

// Helper functions to create pointers
func ptrBool(v bool) *bool       { return &v }
func ptrString(v string) *string { return &v }
func ptrInt(v int) *int          { return &v }

// DefaultDatasetConfig returns a config with every field set to its default.
func DefaultDatasetConfig() *DatasetConfig {
	return &DatasetConfig{
		ComponentOrder:       ptrString(DefaultComponentOrder),
		DimensionOrder:       ptrString(DefaultDimensionOrder),
		NativeComponentOrder: ptrString(DefaultNativeComponentOrder),
		Cache:                ptrBool(true),
		LazyLoad:             ptrBool(true),
		PreloadWorkers:       ptrInt(DefaultPreloadWorkers),
	}
}

// LoadDatasetConfig loads a DatasetConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadDatasetConfig(path string) (*DatasetConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &DatasetConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *DatasetConfig) Validate() error {
	if c.ComponentOrder != nil {
		if err := order.Validate(*c.ComponentOrder); err != nil {
			return fmt.Errorf("component_order: %w", err)
		}
	}
	if c.NativeComponentOrder != nil {
		if err := order.Validate(*c.NativeComponentOrder); err != nil {
			return fmt.Errorf("native_component_order: %w", err)
		}
	}
	if c.DimensionOrder != nil {
		if _, err := order.GetOrderMapping(DefaultDimensionOrder, *c.DimensionOrder); err != nil {
			return fmt.Errorf("dimension_order: %w", err)
		}
	}
	if c.PreloadWorkers != nil && *c.PreloadWorkers < 1 {
		return fmt.Errorf("preload_workers must be positive, got %d", *c.PreloadWorkers)
	}
	return nil
}

// GetComponentOrder returns the component_order value or the default.
func (c *DatasetConfig) GetComponentOrder() string {
	if c == nil || c.ComponentOrder == nil {
		return DefaultComponentOrder
	}
	return *c.ComponentOrder
}

// GetDimensionOrder returns the dimension_order value or the default.
func (c *DatasetConfig) GetDimensionOrder() string {
	if c == nil || c.DimensionOrder == nil {
		return DefaultDimensionOrder
	}
	return *c.DimensionOrder
}

// GetNativeComponentOrder returns the native_component_order value or the default.
func (c *DatasetConfig) GetNativeComponentOrder() string {
	if c == nil || c.NativeComponentOrder == nil {
		return DefaultNativeComponentOrder
	}
	return *c.NativeComponentOrder
}

// GetCache returns the cache value or the default.
func (c *DatasetConfig) GetCache() bool {
	if c == nil || c.Cache == nil {
		return true
	}
	return *c.Cache
}

// GetLazyLoad returns the lazyload value or the default.
func (c *DatasetConfig) GetLazyLoad() bool {
	if c == nil || c.LazyLoad == nil {
		return true
	}
	return *c.LazyLoad
}

// GetPreloadWorkers returns the preload_workers value or the default.
func (c *DatasetConfig) GetPreloadWorkers() int {
	if c == nil || c.PreloadWorkers == nil {
		return DefaultPreloadWorkers
	}
	return *c.PreloadWorkers
}

// WithCache returns a copy with cache and lazyload set.
func (c *DatasetConfig) WithCache(cache, lazyload bool) *DatasetConfig {
	out := DatasetConfig{}
	if c != nil {
		out = *c
	}
	out.Cache = ptrBool(cache)
	out.LazyLoad = ptrBool(lazyload)
	return &out
}
