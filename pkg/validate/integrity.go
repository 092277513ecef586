package validate

import (
	"errors"
	"fmt"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/world"
)

func idMaker(prefix string) func() string {
	seq := 0
	return func() string {
		id := fmt.Sprintf("%s-%d", prefix, seq)
		seq++
		return id
	}
}

// IntegrityChecker checks references between entities: exits to and from
// rooms, characters to their room, accounts to their characters.
type IntegrityChecker struct {
	StartRoom string
}

func (c *IntegrityChecker) Name() string { return "integrity" }

func (c *IntegrityChecker) Check(w *world.World) []Finding {
	var findings []Finding
	mkID := idMaker("integrity")
	hasRoom := func(key string) bool {
		_, ok := w.Get(world.TagRoom, key)
		return ok
	}

	for _, e := range w.All(world.TagExit) {
		exit := e.(*world.Exit)
		if !hasRoom(exit.From) {
			findings = append(findings, Finding{
				ID:          mkID(),
				Category:    CatIntegrityError,
				Severity:    SevError,
				Kind:        world.TagExit,
				Key:         exit.Key(),
				Description: fmt.Sprintf("exit %s leaves from missing room %s", exit.Dir, exit.From),
				Effect:      "the exit is destroyed",
				Fixable:     true,
				fixFunc: func() error {
					w.Destroy(exit)
					return nil
				},
			})
		}
		if !hasRoom(exit.To) {
			findings = append(findings, Finding{
				ID:          mkID(),
				Category:    CatIntegrityError,
				Severity:    SevError,
				Kind:        world.TagExit,
				Key:         exit.Key(),
				Description: fmt.Sprintf("exit %s from %s leads to missing room %s", exit.Dir, exit.From, exit.To),
			})
		}
	}

	names := make(map[string]bool)
	for _, e := range w.All(world.TagCharacter) {
		ch := e.(*world.Char)
		names[ch.Name] = true
		if ch.Room == "" || hasRoom(ch.Room) {
			continue
		}
		f := Finding{
			ID:          mkID(),
			Category:    CatIntegrityError,
			Severity:    SevError,
			Kind:        world.TagCharacter,
			Key:         ch.Key(),
			Description: fmt.Sprintf("%v is in missing room %s", ch, ch.Room),
		}
		if c.StartRoom != "" && hasRoom(c.StartRoom) {
			f.Effect = "the character is moved to " + c.StartRoom
			f.Fixable = true
			start := c.StartRoom
			f.fixFunc = func() error {
				ch.Room = start
				return nil
			}
		}
		findings = append(findings, f)
	}

	for _, e := range w.All(world.TagAccount) {
		acct := e.(*world.Account)
		for _, name := range acct.Characters() {
			if names[name] {
				continue
			}
			findings = append(findings, Finding{
				ID:          mkID(),
				Category:    CatIntegrityWarn,
				Severity:    SevWarning,
				Kind:        world.TagAccount,
				Key:         acct.Key(),
				Description: fmt.Sprintf("account %s lists unknown character %s", acct.Name, name),
				Effect:      "the name is removed from the account",
				Fixable:     true,
				fixFunc: func() error {
					acct.RemoveChar(name)
					return nil
				},
			})
		}
	}
	return findings
}

// AuxChecker reports auxiliary data that failed to initialize and so is
// unavailable on an entity.
type AuxChecker struct{}

func (c *AuxChecker) Name() string { return "auxiliary" }

func (c *AuxChecker) Check(w *world.World) []Finding {
	var findings []Finding
	mkID := idMaker("auxiliary")
	reg := w.Registry()
	for _, kind := range world.Saved {
		classes := reg.Classes(kind)
		for _, e := range w.All(kind) {
			for _, name := range classes {
				if _, err := reg.Get(e, name); !errors.Is(err, auxiliary.ErrUnavailable) {
					continue
				}
				findings = append(findings, Finding{
					ID:          mkID(),
					Category:    CatAuxiliary,
					Severity:    SevWarning,
					Kind:        kind,
					Key:         e.Key(),
					Description: fmt.Sprintf("%v has no %s data; saving it drops that data", e, name),
				})
			}
		}
	}
	return findings
}
