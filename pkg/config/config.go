/*
Copyright 2026 The Poskeep Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config holds the engine's configuration surface. Every knob
// has a default; Load overlays a TOML file on top of the defaults.
// Byte-sized values accept human amounts like "32KiB" or "512MB".
package config

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/pelletier/go-toml/v2"
)

// Size is a byte amount. In TOML it may be a plain integer or a human
// string ("8MiB").
type Size int64

func (s *Size) UnmarshalText(text []byte) error {
	n, err := units.RAMInBytes(string(text))
	if err != nil {
		return fmt.Errorf("config: bad size %q: %v", text, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) Bytes() int { return int(s) }

// ThreadPool declares one I/O pool and the path prefixes it serves.
// The default pool has no paths.
type ThreadPool struct {
	Threads int      `toml:"threads"`
	Paths   []string `toml:"paths,omitempty"`
}

// Merge tunes the external merge.
type Merge struct {
	OutputBufferSize Size `toml:"output_buffer_size"`
	InputBufferSize  Size `toml:"input_buffer_size"`
	// MaxBatchSize is the merge fan-in.
	MaxBatchSize int `toml:"max_batch_size"`
}

// EqualRange tunes the batched equality-range search.
type EqualRange struct {
	MaxRandomReadSize Size `toml:"max_random_read_size"`
	CrossUpdate       bool `toml:"cross_update"`
}

// Index tunes range-index building.
type Index struct {
	BuilderBufferSize Size `toml:"builder_buffer_size"`
}

type Config struct {
	MaxConcurrentOpenPooledFiles   int `toml:"max_concurrent_open_pooled_files"`
	MaxConcurrentOpenUnpooledFiles int `toml:"max_concurrent_open_unpooled_files"`

	DefaultThreadPool ThreadPool   `toml:"default_thread_pool"`
	ThreadPools       []ThreadPool `toml:"thread_pools"`

	Merge      Merge      `toml:"merge"`
	EqualRange EqualRange `toml:"equal_range"`
	Index      Index      `toml:"index"`

	// IndexGranularity is the target record count per range entry.
	IndexGranularity int `toml:"index_granularity"`
}

// Default returns the complete default configuration.
func Default() Config {
	return Config{
		MaxConcurrentOpenPooledFiles:   256,
		MaxConcurrentOpenUnpooledFiles: 64,
		DefaultThreadPool:              ThreadPool{Threads: 8},
		Merge: Merge{
			OutputBufferSize: 8 << 20,
			InputBufferSize:  32 << 20,
			MaxBatchSize:     128,
		},
		EqualRange: EqualRange{
			MaxRandomReadSize: 32 << 10,
			CrossUpdate:       true,
		},
		Index: Index{
			BuilderBufferSize: 1 << 20,
		},
		IndexGranularity: 1024,
	}
}

// Load reads a TOML file over the defaults. A missing path is not an
// error: the defaults stand.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %q: %v", path, err)
	}
	return cfg, nil
}
