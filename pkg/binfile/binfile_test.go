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

package binfile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"poskeep.org/pkg/diskio"
	"poskeep.org/pkg/iosched"
)

type fixture struct {
	hp *diskio.HandlePool
	io *iosched.Pool
}

func newFixture(t *testing.T) *fixture {
	fx := &fixture{
		hp: diskio.NewHandlePool(4),
		io: iosched.NewPool(2),
	}
	t.Cleanup(fx.io.Close)
	return fx
}

func (fx *fixture) reopen(path string) (diskio.File, error) {
	return fx.hp.Open(path, diskio.ModeRead)
}

func (fx *fixture) create(t *testing.T, path string) *Output {
	f, err := diskio.OpenDirect(path, diskio.ModeWriteTrunc, nil)
	require.NoError(t, err)
	return NewOutput(f, fx.io, fx.reopen)
}

func TestOutputSealRoundTrip(t *testing.T) {
	fx := newFixture(t)
	path := filepath.Join(t.TempDir(), "data")

	out := fx.create(t, path)
	_, err := out.Append([]byte("one"))
	require.NoError(t, err)
	fut := out.ScheduleAppend([]byte("two"))
	n, err := fut.Await()
	require.NoError(t, err)
	require.Equal(t, 3, n)

	sealed, err := out.Seal()
	require.NoError(t, err)
	defer sealed.Close()

	require.EqualValues(t, 6, sealed.Size())
	buf := make([]byte, 6)
	n, err = sealed.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "onetwo", string(buf[:n]))

	// Async read through the pool sees the same bytes.
	fut = sealed.ScheduleRead(buf[:3], 3)
	n, err = fut.Await()
	require.NoError(t, err)
	require.Equal(t, "two", string(buf[:n]))
}

func TestInputOutputReadsOwnWrites(t *testing.T) {
	fx := newFixture(t)
	path := filepath.Join(t.TempDir(), "data")

	f, err := diskio.OpenDirect(path, diskio.ModeReadWrite, nil)
	require.NoError(t, err)
	io2 := NewInputOutput(f, fx.io, fx.reopen)

	_, err = io2.Append([]byte("abcdef"))
	require.NoError(t, err)
	buf := make([]byte, 3)
	n, err := io2.ReadAt(buf, 2)
	require.NoError(t, err)
	require.Equal(t, "cde", string(buf[:n]))
	require.NoError(t, io2.Close())
}

func TestObservableSeesBytesBeforeAppend(t *testing.T) {
	fx := newFixture(t)
	path := filepath.Join(t.TempDir(), "data")

	var seen []byte
	var offs []int64
	out := fx.create(t, path)
	obs := NewObservable(out, func(p []byte, off int64) {
		seen = append(seen, p...)
		offs = append(offs, off)
	})

	_, err := obs.Append([]byte("aa"))
	require.NoError(t, err)
	fut := obs.ScheduleAppend([]byte("bbb"))
	_, err = fut.Await()
	require.NoError(t, err)
	require.NoError(t, obs.Flush())

	require.Equal(t, "aabbb", string(seen))
	require.Equal(t, []int64{0, 2}, offs)

	sealed, err := obs.Seal()
	require.NoError(t, err)
	defer sealed.Close()
	require.EqualValues(t, 5, sealed.Size())
}
