package bitvectors

import (
	"errors"
	"testing"
)

func TestCreateAndExtend(t *testing.T) {
	r := NewRegistry()
	r.Create("something_else", "one", "two")
	r.Create("something_else", "two", "three")
	bits, err := r.Bits("something_else")
	if err != nil {
		t.Fatal(err)
	}
	if len(bits) != 3 || bits[2] != "three" {
		t.Errorf("bits = %v", bits)
	}
	if _, err := r.Bits("missing"); !errors.Is(err, ErrNoSuchVector) {
		t.Errorf("missing vector error = %v", err)
	}
}

func TestSetAndAny(t *testing.T) {
	r := NewRegistry()
	r.Create("something_else", "one", "two")
	b, err := r.New("something_else", "")
	if err != nil {
		t.Fatal(err)
	}
	if b.Has("one") || b.Any() {
		t.Fatal("new bitvector has bits set")
	}
	if err := b.Set("one", true); err != nil {
		t.Fatal(err)
	}
	if !b.Has("one") || !b.Any() {
		t.Error("bit not set")
	}
	if err := b.Set("nine", true); !errors.Is(err, ErrNoSuchBit) {
		t.Errorf("undefined bit error = %v", err)
	}
	b.Set("one", false)
	if b.Any() {
		t.Error("bit not cleared")
	}
}

func TestSetAll(t *testing.T) {
	r := NewRegistry()
	r.Create("v", "one", "two")
	b, _ := r.New("v", "")
	b.SetAll(true)
	if b.String() != "one, two" {
		t.Errorf("String() = %q", b.String())
	}
	b.SetAll(false)
	if b.Any() {
		t.Error("SetAll(false) left bits")
	}
}

func TestStringRoundTrip(t *testing.T) {
	b, err := Default.New("user_groups", "wizard, player")
	if err != nil {
		t.Fatal(err)
	}
	if got := b.String(); got != "player, wizard" {
		t.Errorf("String() = %q", got)
	}
	c, _ := Default.New("user_groups", "")
	if err := c.SetString(b.String()); err != nil {
		t.Fatal(err)
	}
	if !c.Has("wizard") || !c.Has("player") {
		t.Errorf("round trip lost bits: %v", c)
	}
	if err := c.SetString("player, bogus"); !errors.Is(err, ErrNoSuchBit) {
		t.Errorf("bad bit error = %v", err)
	}
	if !c.Has("wizard") {
		t.Error("failed SetString modified the bitvector")
	}
}

func TestAndOrCopy(t *testing.T) {
	r := NewRegistry()
	r.Create("v", "a", "b", "c")
	x, _ := r.New("v", "a, b")
	y, _ := r.New("v", "b, c")
	if got := x.And(y).String(); got != "b" {
		t.Errorf("And = %q", got)
	}
	if got := x.Or(y).String(); got != "a, b, c" {
		t.Errorf("Or = %q", got)
	}
	cp := x.Copy()
	cp.Clear()
	if !x.Has("a") {
		t.Error("Copy shares state")
	}
}
