//go:build !linux

package socketcan

import "errors"

// The raw AF_CAN device only exists on linux. The server classifies
// backend drops by this sentinel on every platform, so the stub keeps it
// defined where the device itself cannot be.
var ErrTxOverflow = errors.New("socketcan tx overflow")
