// Package kobject implements kernel object identifiers and the object type
// registry that capabilities name.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on original_source/kernel/src/cap/object.rs: the upper 8 bits of
// an ID carry the object type tag, the lower 56 bits a monotonically
// increasing process-wide counter.
package kobject

import (
	"fmt"
	"sync/atomic"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// Type tags the kind of kernel object an ID names. The type is invariant
// for the lifetime of the identifier.
type Type uint8

// Object type tags. Values and group boundaries mirror the original
// kernel's ObjectType enum exactly — renumbering breaks on-disk/ABI
// compatibility with nothing (state is process-lifetime only, §1), but
// still breaks any test or tool that hardcodes a tag.
const (
	Unknown Type = 0

	// Core kernel objects (1-31).
	Endpoint         Type = 1
	Notification     Type = 2
	MemoryRegion     Type = 3
	AddressSpace     Type = 4
	Thread           Type = 5
	Process          Type = 6
	SchedulerContext Type = 7
	IpcRing          Type = 8

	// Hardware objects (32-63).
	Interrupt   Type = 32
	IoPort      Type = 33
	MmioRegion  Type = 34
	DmaBuffer   Type = 35
	GpuDevice   Type = 36
	NpuDevice   Type = 37
	BlockDevice Type = 38

	// AI/tensor objects (64-95).
	TensorBuffer     Type = 64
	InferenceContext Type = 65
	ComputeQueue     Type = 66
	ModelHandle      Type = 67
	TensorView       Type = 68

	// File system objects (96-127).
	File             Type = 96
	Directory        Type = 97
	Mount            Type = 98
	PersistentRegion Type = 99

	// Time-travel objects (128-159).
	Checkpoint       Type = 128
	RecordingSession Type = 129

	// Network objects (160-191).
	Socket           Type = 160
	NetworkInterface Type = 161
)

var typeNames = map[Type]string{
	Unknown: "Unknown",
	Endpoint: "Endpoint", Notification: "Notification", MemoryRegion: "MemoryRegion",
	AddressSpace: "AddressSpace", Thread: "Thread", Process: "Process",
	SchedulerContext: "SchedulerContext", IpcRing: "IpcRing",
	Interrupt: "Interrupt", IoPort: "IoPort", MmioRegion: "MmioRegion",
	DmaBuffer: "DmaBuffer", GpuDevice: "GpuDevice", NpuDevice: "NpuDevice", BlockDevice: "BlockDevice",
	TensorBuffer: "TensorBuffer", InferenceContext: "InferenceContext", ComputeQueue: "ComputeQueue",
	ModelHandle: "ModelHandle", TensorView: "TensorView",
	File: "File", Directory: "Directory", Mount: "Mount", PersistentRegion: "PersistentRegion",
	Checkpoint: "Checkpoint", RecordingSession: "RecordingSession",
	Socket: "Socket", NetworkInterface: "NetworkInterface",
}

// String renders the type name, or "Type(N)" for an unrecognized tag.
func (t Type) String() string {
	if n, ok := typeNames[t]; ok {
		return n
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// DefaultRights returns the initial rights bundle minted for a freshly
// registered object of this type.
func (t Type) DefaultRights() rights.Rights {
	switch t {
	case MemoryRegion:
		return rights.MemoryFull
	case Endpoint, Notification:
		return rights.IPCFull
	case Thread, Process:
		return rights.ProcessFull
	case TensorBuffer, InferenceContext:
		return rights.AIFull
	case Interrupt, MmioRegion:
		return rights.IRQ | rights.MMIO | rights.READ | rights.WRITE
	default:
		return rights.READ | rights.WRITE | rights.GRANT
	}
}

// RequiresPrivilege reports whether this object type is gated behind
// hardware-level trust beyond ordinary capability possession.
func (t Type) RequiresPrivilege() bool {
	switch t {
	case Interrupt, IoPort, MmioRegion, DmaBuffer, GpuDevice, NpuDevice:
		return true
	default:
		return false
	}
}

// ID is a globally unique 64-bit kernel object identifier: bits 56-63 carry
// the type tag, bits 0-55 a monotonic counter.
type ID uint64

const typeShift = 56
const counterMask = (uint64(1) << typeShift) - 1

// Type extracts the object type tag from an ID.
func (id ID) Type() Type {
	return Type(uint64(id) >> typeShift)
}

// Counter extracts the monotonic counter portion of an ID.
func (id ID) Counter() uint64 {
	return uint64(id) & counterMask
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Type(), id.Counter())
}

var nextCounter uint64

// newID mints a fresh, never-before-issued identifier for the given type.
// Exported only through Registry.Register — there is no public constructor,
// matching the "no unforgeable synthesis" invariant of §4.3.
func newID(t Type) ID {
	counter := atomic.AddUint64(&nextCounter, 1)
	return ID(uint64(t)<<typeShift | (counter & counterMask))
}
