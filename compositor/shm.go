package compositor

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/cube-wm/cubed/buffer"
)

// attachSHM maps a client-supplied shared-memory fd (received over the
// IPC socket via SCM_RIGHTS) and wraps it as a Buffer whose Releaser
// unmaps and closes it (spec.md §3 BufferInfo.type SHM, §5 "the
// client-to-compositor IPC socket ... fds attach via SCM_RIGHTS").
func attachSHM(fd int32, info buffer.Info) (*buffer.Buffer, error) {
	size := int(info.Sizes[0])
	if size == 0 {
		size = int(info.Strides[0]) * int(info.Height)
	}
	data, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(int(fd))
		return nil, fmt.Errorf("compositor: attachSHM: mmap: %w", err)
	}

	b := buffer.New(info)
	b.Releaser = func(*buffer.Buffer) {
		unix.Munmap(data)
		unix.Close(int(fd))
	}
	return b, nil
}
