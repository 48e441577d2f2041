//go:build linux

package txn

import "golang.org/x/sys/unix"

// OSMetadata captures uid/gid from the real filesystem. Repositories backed
// by afero.OsFs should set Repository.Meta to this; memory-backed test
// repositories keep the no-op default.
func OSMetadata(path string) (uid, gid int, ok bool) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, 0, false
	}
	return int(st.Uid), int(st.Gid), true
}
