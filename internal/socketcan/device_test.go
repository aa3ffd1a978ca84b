//go:build linux

package socketcan

import (
	"testing"

	"golang.org/x/sys/unix"
)

// Both frame structs share an 8-byte header; only the payload differs
// (8 vs 64 bytes). Pin the FD size to the classic one the kernel exports
// so a drifting constant cannot silently misclassify reads.
func TestMTUSizes(t *testing.T) {
	const header = unix.CAN_MTU - 8
	if canfdMTU != header+64 {
		t.Fatalf("canfdMTU = %d, want %d", canfdMTU, header+64)
	}
	if canfdMTU <= unix.CAN_MTU {
		t.Fatalf("FD MTU %d not larger than classic %d", canfdMTU, unix.CAN_MTU)
	}
}
