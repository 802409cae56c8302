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

package engine

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"poskeep.org/pkg/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newEnv() *Env {
	cfg := config.Default()
	cfg.DefaultThreadPool.Threads = 2
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewWithLogger(cfg, log)
}

func TestCreateSealReopen(t *testing.T) {
	env := newEnv()
	defer env.Close()

	path := filepath.Join(t.TempDir(), "f")
	out, err := env.CreateOutput(path)
	require.NoError(t, err)
	_, err = out.Append([]byte("payload"))
	require.NoError(t, err)

	sealed, err := out.Seal()
	require.NoError(t, err)

	buf := make([]byte, 7)
	n, err := sealed.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "payload", string(buf[:n]))
	require.NoError(t, sealed.Close())

	// The sealed file reads through the handle pool too.
	again, err := env.OpenImmutable(path)
	require.NoError(t, err)
	defer again.Close()
	require.EqualValues(t, 7, again.Size())
}

func TestRouterFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.DefaultThreadPool.Threads = 1
	cfg.ThreadPools = []config.ThreadPool{{Threads: 1, Paths: []string{"/data/fast"}}}
	log := logrus.New()
	log.SetOutput(io.Discard)
	env := NewWithLogger(cfg, log)
	defer env.Close()

	require.NotEqual(t, env.IO.Default(), env.IO.Pool("/data/fast/part/0"))
	require.Equal(t, env.IO.Default(), env.IO.Pool("/data/slow/part/0"))
}
