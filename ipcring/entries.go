// Package ipcring implements the asynchronous submission/completion ring
// pair carrying typed IPC operations between a process and the kernel.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on original_source/kernel/src/ipc/ring.rs and the binary ABI
// described in spec §6: SQE is a fixed 64-byte record (opcode, flags,
// capability slot, reserved u32, 4×u64 params, u64 user-data tag, padding),
// CQE is also 64 bytes (user-data, i64 result, 2×u64 data, flags, reserved,
// padding).
package ipcring

// Opcode selects the dispatch handler family for a submission entry.
type Opcode uint8

// Opcodes, grouped and numbered exactly as the source kernel's IpcOpcode.
const (
	OpNop Opcode = 0

	// Message passing (1-15).
	OpSend    Opcode = 1
	OpReceive Opcode = 2
	OpCall    Opcode = 3
	OpReply   Opcode = 4

	// Notifications (16-31).
	OpSignal Opcode = 16
	OpWait   Opcode = 17
	OpPoll   Opcode = 18

	// Memory (32-47).
	OpMap   Opcode = 32
	OpUnmap Opcode = 33
	OpGrant Opcode = 34

	// Capabilities (48-63).
	OpDerive   Opcode = 48
	OpRevoke   Opcode = 49
	OpIdentify Opcode = 50

	// AI (64-79).
	OpTensorAlloc   Opcode = 64
	OpTensorFree    Opcode = 65
	OpTensorMigrate Opcode = 66
	OpInference     Opcode = 67
	OpComputeSubmit Opcode = 68

	// Time-travel (80-95).
	OpCheckpoint  Opcode = 80
	OpRestore     Opcode = 81
	OpRecordStart Opcode = 82
	OpRecordStop  Opcode = 83

	// Control (96-111).
	OpCancel      Opcode = 96
	OpTimeout     Opcode = 97
	OpLinkTimeout Opcode = 98
)

// SqFlags are bit flags controlling submission-entry processing semantics.
type SqFlags uint32

const (
	// CHAIN atomically batches this entry with the next one.
	CHAIN SqFlags = 1 << iota
	// NO_CQE is fire-and-forget: no completion is posted.
	NO_CQE
	// FIXED_BUFFER references a pre-registered buffer, skipping per-op
	// user-memory validation.
	FIXED_BUFFER
	// DRAIN defers this entry until all prior in-flight ops complete.
	DRAIN
	// LINK_TIMEOUT marks this entry as a timeout attached to the prior
	// (chained) entry.
	LINK_TIMEOUT
	// ASYNC hints the op may be offloaded to a worker and complete out of
	// order relative to non-async ops.
	ASYNC
	// NOWAIT requests WouldBlock instead of blocking when an op would
	// otherwise suspend (Receive on an empty Endpoint, Wait on a zero
	// Notification word; Send never suspends).
	NOWAIT
)

// CqFlags are bit flags set on a posted completion entry.
type CqFlags uint32

const (
	// MORE indicates more completions are available for this operation.
	MORE CqFlags = 1 << iota
	// BUFFER indicates the fixed buffer referenced by the op was consumed.
	BUFFER
	// CANCELLED indicates the operation was cancelled (chain abort, Cancel
	// opcode, or LINK_TIMEOUT firing).
	CANCELLED
)

// SQE is a fixed-layout submission queue entry.
type SQE struct {
	Opcode   Opcode
	Flags    SqFlags
	CapSlot  uint32
	Reserved uint32
	Params   [4]uint64
	UserData uint64
	_        [8]byte
}

// CQE is a fixed-layout completion queue entry.
type CQE struct {
	UserData uint64
	Result   int64
	Data     [2]uint64
	Flags    CqFlags
	Reserved uint32
	_        [24]byte
}
