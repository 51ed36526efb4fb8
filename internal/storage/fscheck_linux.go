//go:build linux

package storage

import (
	"fmt"
	"syscall"
)

// statfs f_type values of the filesystems found on switch images.
var linuxFilesystemMagic = map[uint32]string{
	0x6969:     "nfs",
	0xFF534D42: "cifs",
	0x517B:     "smbfs",
	0xFE534D42: "smb2",
	0x01021994: "tmpfs",
	0x858458F6: "ramfs",
	0xEF53:     "ext4",
	0x9123683E: "btrfs",
	0x58465342: "xfs",
	0x794C7630: "overlay",
	0x73717368: "squashfs",
}

func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	// f_type is signed on some architectures.
	magic := uint32(st.Type)
	if name, ok := linuxFilesystemMagic[magic]; ok {
		return name, nil
	}
	return fmt.Sprintf("0x%x", magic), nil
}
