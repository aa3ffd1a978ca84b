package can

// Field limits of the gateway frame header.
const (
	MaxBus  = 7          // bus selector is 3 bits
	SFFMask = 0x7FF      // 11-bit identifier
	EFFMask = 0x1FFFFFFF // 29-bit identifier
)

// Frame is one CAN message as exchanged between host and gateway.
// Len is payload length in bytes (0..8 classic, 0..64 FD) and must match
// one of the DLC length classes; only the first Len bytes of Data are valid.
//
// Frames are treated as immutable once built and are copied by value
// through queues; the wire package maps this to/from the byte layout.
type Frame struct {
	Bus      uint8
	Addr     uint32
	Extended bool
	Returned bool
	Rejected bool
	FD       bool
	Len      uint8
	Data     [64]byte
}

// ID returns the identifier masked to its addressing width.
func (f Frame) ID() uint32 {
	if f.Extended {
		return f.Addr & EFFMask
	}
	return f.Addr & SFFMask
}

func (f Frame) CopyShallow() Frame { // handy for tests
	g := f
	copy(g.Data[:], f.Data[:])
	return g
}
