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

package diskio

import (
	"os"

	"golang.org/x/sys/unix"
)

// reserve allocates len bytes of on-disk space starting at off.
func reserve(h *os.File, off, len int64) error {
	err := unix.Fallocate(int(h.Fd()), 0, off, len)
	if err == unix.EOPNOTSUPP || err == unix.ENOSYS {
		// Filesystem without fallocate; extending works everywhere.
		return h.Truncate(off + len)
	}
	return err
}
