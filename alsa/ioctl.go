//go:build linux && (amd64 || arm64)

package alsa

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl performs a generic ioctl syscall.
func ioctl(fd uintptr, req uintptr, arg uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, arg)
	if errno != 0 {
		return errno
	}

	return nil
}

const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrshift   = 0
	iocTypeshift = iocNrshift + 8
	iocSizeshift = iocTypeshift + 8
	iocDirshift  = iocSizeshift + 14
)

// ioc builds an ioctl request code the way the kernel's _IOC macro does.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirshift | typ<<iocTypeshift | nr<<iocNrshift | size<<iocSizeshift
}

// PCM IOCTLs ('A' for ALSA).
var (
	SNDRV_PCM_IOCTL_INFO          = ioc(iocRead, 'A', 0x01, unsafe.Sizeof(sndPcmInfo{}))
	SNDRV_PCM_IOCTL_HW_REFINE     = ioc(iocRead|iocWrite, 'A', 0x10, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_HW_PARAMS     = ioc(iocRead|iocWrite, 'A', 0x11, unsafe.Sizeof(sndPcmHwParams{}))
	SNDRV_PCM_IOCTL_SW_PARAMS     = ioc(iocRead|iocWrite, 'A', 0x13, unsafe.Sizeof(sndPcmSwParams{}))
	SNDRV_PCM_IOCTL_STATUS        = ioc(iocRead, 'A', 0x20, unsafe.Sizeof(sndPcmStatus{}))
	SNDRV_PCM_IOCTL_DELAY         = ioc(iocRead, 'A', 0x21, unsafe.Sizeof(int64(0)))
	SNDRV_PCM_IOCTL_PREPARE       = ioc(iocNone, 'A', 0x40, 0)
	SNDRV_PCM_IOCTL_START         = ioc(iocNone, 'A', 0x42, 0)
	SNDRV_PCM_IOCTL_DROP          = ioc(iocNone, 'A', 0x43, 0)
	SNDRV_PCM_IOCTL_WRITEI_FRAMES = ioc(iocWrite, 'A', 0x50, unsafe.Sizeof(sndXferi{}))
	SNDRV_PCM_IOCTL_READI_FRAMES  = ioc(iocRead, 'A', 0x51, unsafe.Sizeof(sndXferi{}))
)
