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

// Package rectest has shared helpers for the engine's package tests:
// a quiet Env factory and span fixtures.
package rectest

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"poskeep.org/pkg/config"
	"poskeep.org/pkg/engine"
	"poskeep.org/pkg/rec"
	"poskeep.org/pkg/span"
)

// NewEnv returns an Env with small test-friendly limits and a silent
// logger, closed with the test.
func NewEnv(t testing.TB) *engine.Env {
	cfg := config.Default()
	cfg.MaxConcurrentOpenPooledFiles = 16
	cfg.MaxConcurrentOpenUnpooledFiles = 16
	cfg.DefaultThreadPool.Threads = 2
	log := logrus.New()
	log.SetOutput(io.Discard)
	env := engine.NewWithLogger(cfg, log)
	t.Cleanup(env.Close)
	return env
}

// WriteFile writes recs to path as-is and returns a whole-file span
// over the sealed result.
func WriteFile[T, K any](t testing.TB, env *engine.Env, path string, tr rec.Traits[T, K], recs []T) span.Span[T, K] {
	t.Helper()
	out, err := env.CreateOutput(path)
	require.NoError(t, err)
	bi := span.NewBackInserter[T, K](tr, out, 64*tr.Size())
	for _, v := range recs {
		require.NoError(t, bi.Push(v))
	}
	require.NoError(t, bi.Flush())
	sealed, err := out.Seal()
	require.NoError(t, err)
	sp, err := span.Whole(tr, sealed)
	require.NoError(t, err)
	return sp
}

// ReadAll drains a span through its sequential iterator.
func ReadAll[T, K any](t testing.TB, sp span.Span[T, K]) []T {
	t.Helper()
	it := span.NewIter(sp, 64*sp.Traits().Size())
	var out []T
	for {
		v, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, v)
	}
	require.NoError(t, it.Err())
	return out
}
