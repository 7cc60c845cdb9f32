// Package capability implements the unforgeable capability token and its
// derivation protocol.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Grounded on original_source/kernel/src/cap/mod.rs. A token is pure data —
// safe to copy — but only meaningful when held in a CSpace slot; naked
// tokens carry no authority on their own (enforced by cspace, not here).
package capability

import (
	"fmt"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/kobject"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// Error is a structured capability error with a stable code, for callers
// that need to branch on failure kind rather than match error strings.
type Error struct {
	Code    ErrorCode
	Message string
}

func (e *Error) Error() string { return e.Message }

// ErrorCode enumerates the capability error taxonomy of §7(1).
type ErrorCode int

const (
	CodeNoGrantRight ErrorCode = iota
	CodeEmptyRights
	CodeRevoked
	CodeInsufficientRights
	CodeObjectNotFound
	CodeInvalidSlot
)

func newErr(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Sentinel errors for errors.Is-style comparisons.
var (
	ErrNoGrantRight  = newErr(CodeNoGrantRight, "capability: GRANT right required to derive")
	ErrEmptyRights   = newErr(CodeEmptyRights, "capability: derived rights would be empty")
	ErrRevoked       = newErr(CodeRevoked, "capability: generation mismatch, token revoked")
	ErrInvalidSlot   = newErr(CodeInvalidSlot, "capability: invalid slot")
	ErrObjectNotFound = newErr(CodeObjectNotFound, "capability: object not found")
)

// Token is the 160-bit-logical capability: a 64-bit object identifier, a
// 64-bit rights mask, and a 32-bit generation counter. Copying a Token is
// always safe.
type Token struct {
	ObjectID   kobject.ID
	Rights     rights.Rights
	Generation uint32
}

func (t Token) String() string {
	return fmt.Sprintf("Token{%s, %s, gen=%d}", t.ObjectID, t.Rights, t.Generation)
}

// Bootstrap mints the root capability for a freshly registered object.
// This is the only constructor outside Derive/DeriveWithGrant, and is
// meant to be called exactly once per object, right after
// kobject.Registry.Register — it does not itself touch the registry.
func Bootstrap(id kobject.ID, initial rights.Rights, generation uint32) Token {
	return Token{ObjectID: id, Rights: initial, Generation: generation}
}

// Derive produces a new token with a subset of the parent's rights, per the
// protocol of §4.3. GRANT is stripped from the result unless the caller
// uses DeriveWithGrant. Derivation never touches the registry — call
// Validate separately against a kobject.Registry to check liveness.
func (t Token) Derive(mask rights.Rights) (Token, error) {
	if !t.Rights.Contains(rights.GRANT) {
		return Token{}, ErrNoGrantRight
	}
	newRights := t.Rights.Intersect(mask)
	if newRights.IsEmpty() {
		return Token{}, ErrEmptyRights
	}
	final := newRights.Difference(rights.GRANT)
	return Token{ObjectID: t.ObjectID, Rights: final, Generation: t.Generation}, nil
}

// DeriveWithGrant is like Derive but retains GRANT in the result, allowing
// the derived capability to itself derive further capabilities. Per the
// Open Question in §9, this source behavior is preserved exactly as-is:
// Derive always strips GRANT, DeriveWithGrant always keeps it when present
// in the intersected mask.
func (t Token) DeriveWithGrant(mask rights.Rights) (Token, error) {
	if !t.Rights.Contains(rights.GRANT) {
		return Token{}, ErrNoGrantRight
	}
	newRights := t.Rights.Intersect(mask)
	if newRights.IsEmpty() {
		return Token{}, ErrEmptyRights
	}
	return Token{ObjectID: t.ObjectID, Rights: newRights, Generation: t.Generation}, nil
}

// Validate checks t against the registry's current generation for its
// object. A token is valid iff its generation equals the registry's
// current generation for ObjectID.
func (t Token) Validate(reg *kobject.Registry) error {
	gen, err := reg.Generation(t.ObjectID)
	if err != nil {
		return ErrObjectNotFound
	}
	if gen != t.Generation {
		return ErrRevoked
	}
	return nil
}

// Require checks t has every bit of required, without consulting the
// registry. Callers on the dispatch fast path validate generation and
// rights together; Require alone is for pure rights-algebra checks.
func (t Token) Require(required rights.Rights) error {
	if !t.Rights.Contains(required) {
		return newErr(CodeInsufficientRights, fmt.Sprintf(
			"capability: insufficient rights: have %s, need %s", t.Rights, required))
	}
	return nil
}
