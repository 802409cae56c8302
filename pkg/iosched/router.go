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

package iosched

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

type route struct {
	prefix string
	pool   *Pool
}

// Router maps file paths to pools by their deepest configured path
// prefix. Paths matching no prefix use the default pool.
type Router struct {
	def    *Pool
	routes []route // sorted by descending prefix length
	pools  []*Pool // every distinct pool, for Close
	log    *logrus.Logger
}

// RouteConfig declares one pool and the path prefixes it serves.
type RouteConfig struct {
	Workers int
	Paths   []string
}

// NewRouter builds the default pool and one pool per RouteConfig.
func NewRouter(defaultWorkers int, routes []RouteConfig, log *logrus.Logger) *Router {
	r := &Router{
		def: NewPool(defaultWorkers),
		log: log,
	}
	r.pools = append(r.pools, r.def)
	for _, rc := range routes {
		pool := NewPool(rc.Workers)
		r.pools = append(r.pools, pool)
		for _, p := range rc.Paths {
			r.routes = append(r.routes, route{prefix: filepath.Clean(p), pool: pool})
		}
	}
	sort.Slice(r.routes, func(i, j int) bool {
		return len(r.routes[i].prefix) > len(r.routes[j].prefix)
	})
	if log != nil && len(r.routes) > 0 {
		log.WithField("routes", len(r.routes)).Debug("iosched: routing table configured")
	}
	return r
}

// Pool returns the pool serving path.
func (r *Router) Pool(path string) *Pool {
	path = filepath.Clean(path)
	for _, rt := range r.routes {
		if path == rt.prefix || strings.HasPrefix(path, rt.prefix+string(filepath.Separator)) {
			return rt.pool
		}
	}
	return r.def
}

// Default returns the default pool.
func (r *Router) Default() *Pool { return r.def }

// Close drains and joins every pool.
func (r *Router) Close() {
	for _, p := range r.pools {
		p.Close()
	}
}
