//go:build !linux

package txn

// OSMetadata is a no-op on platforms without Stat_t ownership fields.
func OSMetadata(path string) (uid, gid int, ok bool) {
	return 0, 0, false
}
