//go:build unix

package tarball

import (
	"archive/tar"
	"os"
	"syscall"
)

type fileID struct {
	dev uint64
	ino uint64
}

// identify returns the device/inode pair of files with more than one link.
func identify(info os.FileInfo) (fileID, bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st.Nlink < 2 {
		return fileID{}, false
	}
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, true
}

// restoreOwner applies the archived uid/gid when running as root, as tar does.
func restoreOwner(path string, hdr *tar.Header) error {
	if os.Geteuid() != 0 {
		return nil
	}
	return os.Lchown(path, hdr.Uid, hdr.Gid)
}
