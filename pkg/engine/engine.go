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

// Package engine wires the engine's shared resources into one explicit
// context object: the handle pool, the direct-handle cap, the I/O pool
// router and the logger, all sized from a Config. Partitions and
// pipelines take the Env instead of reaching for globals.
package engine

import (
	"github.com/sirupsen/logrus"

	"poskeep.org/pkg/binfile"
	"poskeep.org/pkg/config"
	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/iosched"
)

// Env is the engine context. Lifetime: New(cfg), any number of
// partitions, Close.
type Env struct {
	Cfg       config.Config
	Handles   *diskio.HandlePool
	DirectCap *diskio.DirectCap
	IO        *iosched.Router
	Log       *logrus.Logger
}

// New builds an Env from cfg with a default logger.
func New(cfg config.Config) *Env {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	return NewWithLogger(cfg, log)
}

// NewWithLogger builds an Env from cfg logging through log.
func NewWithLogger(cfg config.Config, log *logrus.Logger) *Env {
	routes := make([]iosched.RouteConfig, 0, len(cfg.ThreadPools))
	for _, tp := range cfg.ThreadPools {
		routes = append(routes, iosched.RouteConfig{Workers: tp.Threads, Paths: tp.Paths})
	}
	return &Env{
		Cfg:       cfg,
		Handles:   diskio.NewHandlePool(cfg.MaxConcurrentOpenPooledFiles),
		DirectCap: diskio.NewDirectCap(cfg.MaxConcurrentOpenUnpooledFiles),
		IO:        iosched.NewRouter(cfg.DefaultThreadPool.Threads, routes, log),
		Log:       log,
	}
}

// OpenImmutable opens path read-only through the handle pool.
func (e *Env) OpenImmutable(path string) (*binfile.Immutable, error) {
	f, err := e.Handles.Open(path, diskio.ModeRead)
	if err != nil {
		return nil, err
	}
	return binfile.NewImmutable(f, e.IO.Pool(path)), nil
}

// CreateOutput creates (or truncates) path as an append-only output.
// Outputs are direct files: single-pass writers want their handle
// resident. Sealing reopens the path read-only through the pool.
func (e *Env) CreateOutput(path string) (*binfile.Output, error) {
	f, err := diskio.OpenDirect(path, diskio.ModeWriteTrunc, e.DirectCap)
	if err != nil {
		return nil, err
	}
	return binfile.NewOutput(f, e.IO.Pool(path), e.reopenRead), nil
}

// OpenInputOutput opens path for reading and appending as a direct
// file, creating it if missing.
func (e *Env) OpenInputOutput(path string) (*binfile.InputOutput, error) {
	f, err := diskio.OpenDirect(path, diskio.ModeReadWrite, e.DirectCap)
	if err != nil {
		return nil, err
	}
	return binfile.NewInputOutput(f, e.IO.Pool(path), e.reopenRead), nil
}

func (e *Env) reopenRead(path string) (diskio.File, error) {
	return e.Handles.Open(path, diskio.ModeRead)
}

// Close drains and joins every I/O pool. Open files are the caller's
// to close first.
func (e *Env) Close() {
	e.IO.Close()
}
