package assembly

import "github.com/canlink/go-can-gateway/internal/metrics"

// Burst reservations: worst-case number of frames one host transfer can
// carry per transport kind. A paused transport is only resumed once the
// transmit pool can absorb a full further burst.
const (
	USBBurstFrames = 51
	SPIBurstFrames = 16
)

// SlotPool exposes the free capacity of the transmit slot pool.
type SlotPool interface {
	FreeSlots() int
}

// Availability is the post-write admission check result: which transport
// kinds currently have enough transmit capacity for a full burst. The
// caller decides how to act on it (resume reads, keep a pause in place).
type Availability struct {
	USB bool
	SPI bool
}

// Thresholds holds the per-kind free-slot reservations.
type Thresholds struct {
	USB int
	SPI int
}

// DefaultThresholds returns the standard burst reservations.
func DefaultThresholds() Thresholds {
	return Thresholds{USB: USBBurstFrames, SPI: SPIBurstFrames}
}

// CheckAdmission compares the pool level against the thresholds. It is
// level-triggered: calling it when nothing is paused is harmless.
func CheckAdmission(pool SlotPool, t Thresholds) Availability {
	if pool == nil {
		return Availability{}
	}
	free := pool.FreeSlots()
	return Availability{
		USB: free >= t.USB,
		SPI: free >= t.SPI,
	}
}

// Notifier adapts the admission check into resume callbacks for transports
// that want the push model instead of inspecting the returned Availability.
// Redundant signaling of an already-running transport is tolerated.
type Notifier struct {
	Pool       SlotPool
	Thresholds Thresholds
	ResumeUSB  func()
	ResumeSPI  func()
}

// Refresh runs the admission check, fires the resume callbacks for each
// kind with capacity, and returns the availability for callers that also
// want the pull model.
func (n *Notifier) Refresh() Availability {
	av := CheckAdmission(n.Pool, n.Thresholds)
	if av.USB && n.ResumeUSB != nil {
		metrics.IncTxResume(metrics.KindUSB)
		n.ResumeUSB()
	}
	if av.SPI && n.ResumeSPI != nil {
		metrics.IncTxResume(metrics.KindSPI)
		n.ResumeSPI()
	}
	return av
}
