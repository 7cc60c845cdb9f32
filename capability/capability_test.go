// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package capability

import (
	"testing"

	"github.com/Daemoniorum-LLC/nyx-os-sub003/kobject"
	"github.com/Daemoniorum-LLC/nyx-os-sub003/rights"
)

// TestDeriveStripsGrant is scenario 1 of spec §8, literal values.
func TestDeriveStripsGrant(t *testing.T) {
	c := Token{
		ObjectID:   kobject.ID(0x41_0000000000_0001),
		Rights:     rights.READ | rights.WRITE | rights.GRANT,
		Generation: 5,
	}
	d, err := c.Derive(rights.READ | rights.WRITE | rights.GRANT)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}
	if d.ObjectID != c.ObjectID {
		t.Fatalf("object id changed: got %v want %v", d.ObjectID, c.ObjectID)
	}
	if d.Rights != rights.READ|rights.WRITE {
		t.Fatalf("rights = %v, want READ|WRITE (GRANT stripped)", d.Rights)
	}
	if d.Generation != 5 {
		t.Fatalf("generation = %d, want 5", d.Generation)
	}
}

func TestDeriveNoGrantRight(t *testing.T) {
	c := Token{ObjectID: kobject.ID(1), Rights: rights.READ | rights.WRITE, Generation: 1}
	_, err := c.Derive(rights.READ)
	if err != ErrNoGrantRight {
		t.Fatalf("err = %v, want ErrNoGrantRight", err)
	}
}

func TestDeriveEmptyRights(t *testing.T) {
	c := Token{ObjectID: kobject.ID(1), Rights: rights.READ | rights.GRANT, Generation: 1}
	_, err := c.Derive(rights.WRITE)
	if err != ErrEmptyRights {
		t.Fatalf("err = %v, want ErrEmptyRights", err)
	}
}

func TestDeriveWithGrantRetainsGrant(t *testing.T) {
	c := Token{ObjectID: kobject.ID(1), Rights: rights.READ | rights.GRANT, Generation: 1}
	d, err := c.DeriveWithGrant(rights.READ | rights.GRANT)
	if err != nil {
		t.Fatalf("DeriveWithGrant failed: %v", err)
	}
	if !d.Rights.Contains(rights.GRANT) {
		t.Fatalf("expected GRANT to be retained, got %v", d.Rights)
	}
}

// TestDeriveMonotonicityProperty is a property check over many masks: the
// derived rights are always a subset of the parent's, object id and
// generation are always preserved.
func TestDeriveMonotonicityProperty(t *testing.T) {
	parent := Token{ObjectID: kobject.ID(0x0100000000000042), Rights: rights.AIFull, Generation: 7}
	masks := []rights.Rights{
		rights.TENSOR_ALLOC,
		rights.TENSOR_ALLOC | rights.TENSOR_FREE,
		rights.AIFull,
		rights.INFERENCE | rights.GRANT,
	}
	for _, m := range masks {
		d, err := parent.Derive(m)
		if err != nil {
			t.Fatalf("Derive(%v) failed: %v", m, err)
		}
		if d.Rights&^parent.Rights != 0 {
			t.Fatalf("derived rights %v not a subset of parent %v", d.Rights, parent.Rights)
		}
		if d.ObjectID != parent.ObjectID {
			t.Fatalf("object id not preserved")
		}
		if d.Generation != parent.Generation {
			t.Fatalf("generation not preserved")
		}
	}
}

// TestRevokeCascade is scenario 2 of spec §8.
func TestRevokeCascade(t *testing.T) {
	reg := kobject.NewRegistry()
	id := reg.Register(kobject.MemoryRegion)
	gen, _ := reg.Generation(id)

	c1 := Bootstrap(id, rights.MemoryFull, gen)
	c2, err := c1.Derive(rights.READ | rights.WRITE)
	if err != nil {
		t.Fatalf("Derive failed: %v", err)
	}

	if err := c1.Validate(reg); err != nil {
		t.Fatalf("c1 should validate before revoke: %v", err)
	}
	if err := c2.Validate(reg); err != nil {
		t.Fatalf("c2 should validate before revoke: %v", err)
	}

	if err := reg.Revoke(id); err != nil {
		t.Fatalf("Revoke failed: %v", err)
	}

	if err := c1.Validate(reg); err != ErrRevoked {
		t.Fatalf("c1.Validate() after revoke = %v, want ErrRevoked", err)
	}
	if err := c2.Validate(reg); err != ErrRevoked {
		t.Fatalf("c2.Validate() after revoke = %v, want ErrRevoked", err)
	}

	// A capability minted after the revoke, by a fresh bootstrap at the new
	// generation, is valid.
	newGen, _ := reg.Generation(id)
	c3 := Bootstrap(id, rights.MemoryFull, newGen)
	if err := c3.Validate(reg); err != nil {
		t.Fatalf("c3 (post-revoke) should validate: %v", err)
	}
}

func TestRequire(t *testing.T) {
	c := Token{Rights: rights.READ | rights.WRITE}
	if err := c.Require(rights.READ); err != nil {
		t.Fatalf("Require(READ) failed: %v", err)
	}
	if err := c.Require(rights.EXECUTE); err == nil {
		t.Fatalf("expected Require(EXECUTE) to fail")
	}
}
