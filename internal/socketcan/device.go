//go:build linux

package socketcan

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/sys/unix"

	"github.com/canlink/go-can-gateway/internal/can"
)

// canfdMTU is sizeof(struct canfd_frame): 8-byte header + 64-byte payload.
// x/sys/unix only exports CAN_MTU (classic), not the FD variant.
const canfdMTU = 72

type Device struct {
	fd  int
	bus uint8
}

// Open binds a raw CAN socket to iface. Frames read from the device carry
// bus as their bus selector; CAN FD frames are enabled when the kernel
// supports them.
func Open(iface string, bus uint8) (*Device, error) {
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket(AF_CAN): %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		// Older kernels may not know this option; classic-only is fine.
		if err != unix.ENOPROTOOPT {
			_ = unix.Close(fd)
			return nil, fmt.Errorf("enable CAN FD: %w", err)
		}
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("if %q: %w", iface, err)
	}
	sa := &unix.SockaddrCAN{Ifindex: ifi.Index}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind(can@%s): %w", iface, err)
	}
	return &Device{fd: fd, bus: bus}, nil
}

func (d *Device) Close() error { return unix.Close(d.fd) }

// ReadFrame reads one classic or FD frame from the raw CAN socket.
func (d *Device) ReadFrame(fr *can.Frame) error {
	var buf [canfdMTU]byte
	n, err := unix.Read(d.fd, buf[:])
	if err != nil {
		return err
	}
	if n != unix.CAN_MTU && n != canfdMTU {
		return fmt.Errorf("unexpected frame size: %d", n)
	}

	// struct can(fd)_frame (linux/can.h):
	//   can_id  u32   [0:4]  (includes EFF/RTR/ERR flags)
	//   len     u8    [4]
	//   flags   u8    [5]    (FD only; pad on classic)
	//   pad     2B    [6:8]
	//   data    [8]/[64]  [8:]
	//
	// NOTE: The kernel provides fields in host byte order. On common Linux
	// archs (little-endian) this matches binary.LittleEndian. If you ever
	// target big-endian, switch to BigEndian here.
	id := binary.LittleEndian.Uint32(buf[0:4])
	dlen := int(buf[4])

	*fr = can.Frame{Bus: d.bus, FD: n == canfdMTU}
	fr.Extended = id&unix.CAN_EFF_FLAG != 0
	if fr.Extended {
		fr.Addr = id & can.EFFMask
	} else {
		fr.Addr = id & can.SFFMask
	}
	max := 8
	if fr.FD {
		max = 64
	}
	if dlen < 0 || dlen > max {
		dlen = max
	}
	fr.Len = uint8(dlen)
	copy(fr.Data[:dlen], buf[8:8+dlen])
	return nil
}

// WriteFrame writes one classic or FD frame to the raw CAN socket.
func (d *Device) WriteFrame(fr can.Frame) error {
	var buf [canfdMTU]byte
	id := fr.ID()
	if fr.Extended {
		id |= unix.CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(buf[0:4], id)
	buf[4] = fr.Len
	copy(buf[8:], fr.Data[:fr.Len])
	size := unix.CAN_MTU
	if fr.FD {
		size = canfdMTU
	}
	_, err := unix.Write(d.fd, buf[:size])
	return err
}
