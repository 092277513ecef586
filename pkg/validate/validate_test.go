package validate

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/storage"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

type brittle struct{ auxiliary.Base }

func (b *brittle) Init(tree *storage.Set) error {
	if tree != nil && tree.ReadBool("broken") {
		return storage.ErrInvalidType
	}
	return nil
}
func (b *brittle) Copy() auxiliary.Data { return &brittle{} }
func (b *brittle) CopyTo(to auxiliary.Data) auxiliary.Data { return to }
func (b *brittle) Store() *storage.Set { return nil }

func testWorld(t *testing.T) *world.World {
	t.Helper()
	reg := auxiliary.NewRegistry(auxiliary.WithLogger(log.New(&bytes.Buffer{}, "", 0)))
	if err := world.Register(reg); err != nil {
		t.Fatal(err)
	}
	if err := reg.Install("brittle", &brittle{}, "room"); err != nil {
		t.Fatal(err)
	}
	return world.New(reg, nil)
}

func TestCleanWorld(t *testing.T) {
	w := testWorld(t)
	w.Add(world.NewRoom("a@z", "A"), nil)
	w.Add(world.NewRoom("b@z", "B"), nil)
	w.Add(world.NewExit("a@z", "north", "b@z"), nil)
	c := world.NewChar(w.NextUID(), "Ann")
	c.Room = "a@z"
	w.Add(c, nil)
	acct := world.NewAccount("ann")
	acct.AddChar("Ann")
	w.Add(acct, nil)

	if got := New(w, "a@z").Run(); len(got) != 0 {
		t.Errorf("findings = %+v", got)
	}
}

func TestIntegrityFindingsAndFixes(t *testing.T) {
	w := testWorld(t)
	w.Add(world.NewRoom("start@z", "Start"), nil)
	w.Add(world.NewExit("gone@z", "east", "start@z"), nil)
	w.Add(world.NewExit("start@z", "west", "nowhere@z"), nil)
	c := world.NewChar(w.NextUID(), "Bob")
	c.Room = "lost@z"
	w.Add(c, nil)
	acct := world.NewAccount("bob")
	acct.AddChar("Bob")
	acct.AddChar("Ghost")
	w.Add(acct, nil)

	v := New(w, "start@z")
	findings := v.Run()
	if len(findings) != 4 {
		t.Fatalf("findings = %+v", findings)
	}
	if findings[0].Kind != world.TagAccount || findings[0].Severity != SevWarning {
		t.Errorf("first finding = %+v", findings[0])
	}
	sum := v.Summary()
	if sum[CatIntegrityError] != 3 || sum[CatIntegrityWarn] != 1 {
		t.Errorf("summary = %v", sum)
	}

	n, err := v.ApplyAll(CatIntegrityError)
	if err != nil || n != 2 {
		t.Errorf("ApplyAll = %d, %v", n, err)
	}
	if c.Room != "start@z" {
		t.Errorf("character room = %s", c.Room)
	}
	if _, ok := w.Get(world.TagExit, "gone@z/east"); ok {
		t.Error("exit from missing room not destroyed")
	}

	var warnID, unfixable string
	for _, f := range v.Findings() {
		if f.Category == CatIntegrityWarn {
			warnID = f.ID
		}
		if !f.Fixable {
			unfixable = f.ID
		}
	}
	if err := v.ApplyFix(warnID); err != nil {
		t.Fatal(err)
	}
	if got := acct.Characters(); len(got) != 1 || got[0] != "Bob" {
		t.Errorf("account characters = %v", got)
	}
	if err := v.ApplyFix(warnID); err == nil {
		t.Error("second ApplyFix succeeded")
	}
	if err := v.ApplyFix(unfixable); err == nil {
		t.Error("ApplyFix on unfixable finding succeeded")
	}
	if err := v.ApplyFix("missing-1"); err == nil {
		t.Error("ApplyFix on unknown id succeeded")
	}
}

func TestNoStartRoomLeavesCharacterUnfixable(t *testing.T) {
	w := testWorld(t)
	c := world.NewChar(w.NextUID(), "Cy")
	c.Room = "lost@z"
	w.Add(c, nil)
	findings := New(w, "").Run()
	if len(findings) != 1 || findings[0].Fixable {
		t.Errorf("findings = %+v", findings)
	}
}

func TestAuxChecker(t *testing.T) {
	w := testWorld(t)
	broken := storage.NewSet()
	sub := storage.NewSet()
	sub.Set("broken", true)
	broken.StoreSet("brittle", sub)
	w.Add(world.NewRoom("bad@z", "Bad"), broken)
	w.Add(world.NewRoom("good@z", "Good"), nil)

	findings := New(w, "").Run()
	if len(findings) != 1 || findings[0].Category != CatAuxiliary || findings[0].Key != "bad@z" {
		t.Fatalf("findings = %+v", findings)
	}
}

func TestReport(t *testing.T) {
	w := testWorld(t)
	w.Add(world.NewExit("x@z", "up", "y@z"), nil)
	v := New(w, "")
	v.Run()
	r := GenerateReport(v)
	if r.TotalFindings != 2 || r.Categories["integrity-error"].Total != 2 || r.Categories["integrity-error"].Fixable != 1 {
		t.Errorf("report = %+v", r)
	}

	var buf bytes.Buffer
	if err := r.WriteJSON(&buf); err != nil {
		t.Fatal(err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("report JSON: %v", err)
	}
	buf.Reset()
	r.WriteText(&buf)
	if !strings.Contains(buf.String(), "2 findings") {
		t.Errorf("text = %q", buf.String())
	}
}
