// Package world defines the objects that carry auxiliary data: accounts,
// characters, rooms, objects, exits and sockets.
package world

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/bitvectors"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Owner type tags.
const (
	TagAccount   = "account"
	TagCharacter = "character"
	TagRoom      = "room"
	TagObject    = "object"
	TagExit      = "exit"
	TagSocket    = "socket"
)

// Entity is a world object that can be saved.
type Entity interface {
	auxiliary.Owner
	Kind() string
	// Key identifies the entity among others of its kind.
	Key() string
	// StoreFields writes the entity's own fields, not its auxiliary data.
	StoreFields(s *storage.Set) error
	LoadFields(s *storage.Set) error
}

// Register registers every world type with reg.
func Register(reg *auxiliary.Registry) error {
	for tag, sample := range map[string]any{
		TagAccount:   (*Account)(nil),
		TagCharacter: (*Char)(nil),
		TagRoom:      (*Room)(nil),
		TagObject:    (*Obj)(nil),
		TagExit:      (*Exit)(nil),
		TagSocket:    (*Socket)(nil),
	} {
		if err := reg.RegisterType(tag, sample); err != nil {
			return fmt.Errorf("world: register %s: %w", tag, err)
		}
	}
	return nil
}

// Saved lists the kinds written to a store, in load order. Sockets only
// live as long as their connection.
var Saved = []string{TagAccount, TagRoom, TagObject, TagCharacter, TagExit}

// Blank returns an empty entity of kind for LoadFields to fill, or nil if
// kind is unknown.
func Blank(kind string) Entity {
	switch kind {
	case TagAccount:
		return NewAccount("")
	case TagCharacter:
		return NewChar(0, "")
	case TagRoom:
		return NewRoom("", "")
	case TagObject:
		return NewObj(0, "")
	case TagExit:
		return NewExit("", "", "")
	case TagSocket:
		return &Socket{}
	}
	return nil
}

func mustBits(vector string) *bitvectors.Bitvector {
	b, err := bitvectors.Default.New(vector, "")
	if err != nil {
		panic(err)
	}
	return b
}

func loadBits(b *bitvectors.Bitvector, s *storage.Set, key string) error {
	if err := b.SetString(s.ReadString(key)); err != nil {
		return fmt.Errorf("world: %s: %w", key, err)
	}
	return nil
}

// Account is a player account and the names of its characters.
type Account struct {
	auxiliary.Holder
	Name   string
	Groups *bitvectors.Bitvector
	chars  []string
}

// NewAccount returns an account with no characters.
func NewAccount(name string) *Account {
	return &Account{Name: name, Groups: mustBits("user_groups")}
}

func (a *Account) Kind() string   { return TagAccount }
func (a *Account) Key() string    { return a.Name }
func (a *Account) String() string { return "account " + a.Name }

// AddChar records a character name on the account.
func (a *Account) AddChar(name string) {
	if !slices.Contains(a.chars, name) {
		a.chars = append(a.chars, name)
	}
}

// RemoveChar forgets a character name.
func (a *Account) RemoveChar(name string) {
	a.chars = slices.DeleteFunc(a.chars, func(c string) bool { return c == name })
}

// Characters returns the sorted character names.
func (a *Account) Characters() []string {
	out := slices.Clone(a.chars)
	sort.Strings(out)
	return out
}

func (a *Account) StoreFields(s *storage.Set) error {
	chars := storage.NewList()
	for _, name := range a.Characters() {
		c := storage.NewSet()
		if err := c.StoreString("name", name); err != nil {
			return err
		}
		if err := chars.Add(c); err != nil {
			return err
		}
	}
	return storeAll(s,
		field{"name", a.Name},
		field{"user_groups", a.Groups.String()},
		field{"characters", chars},
	)
}

func (a *Account) LoadFields(s *storage.Set) error {
	a.Name = s.ReadString("name")
	a.chars = nil
	for _, c := range s.ReadList("characters").All() {
		a.AddChar(c.ReadString("name"))
	}
	return loadBits(a.Groups, s, "user_groups")
}

// Char is a player character or NPC.
type Char struct {
	auxiliary.Holder
	UID   int64
	Name  string
	Room  string // key of the room the character is in
	Prefs *bitvectors.Bitvector
}

// NewChar returns a character with the given unique id.
func NewChar(uid int64, name string) *Char {
	return &Char{UID: uid, Name: name, Prefs: mustBits("char_prfs")}
}

func (c *Char) Kind() string   { return TagCharacter }
func (c *Char) Key() string    { return strconv.FormatInt(c.UID, 10) }
func (c *Char) String() string { return fmt.Sprintf("character %s (#%d)", c.Name, c.UID) }

func (c *Char) StoreFields(s *storage.Set) error {
	return storeAll(s,
		field{"uid", c.UID},
		field{"name", c.Name},
		field{"room", c.Room},
		field{"prfs", c.Prefs.String()},
	)
}

func (c *Char) LoadFields(s *storage.Set) error {
	c.UID = s.ReadInt("uid")
	c.Name = s.ReadString("name")
	c.Room = s.ReadString("room")
	return loadBits(c.Prefs, s, "prfs")
}

// Room is a location.
type Room struct {
	auxiliary.Holder
	RoomKey string
	Name    string
	Desc    string
	Bits    *bitvectors.Bitvector
}

// NewRoom returns a room identified by key, e.g. "tavern@town".
func NewRoom(key, name string) *Room {
	return &Room{RoomKey: key, Name: name, Bits: mustBits("room_bits")}
}

func (r *Room) Kind() string   { return TagRoom }
func (r *Room) Key() string    { return r.RoomKey }
func (r *Room) String() string { return "room " + r.RoomKey }

func (r *Room) StoreFields(s *storage.Set) error {
	return storeAll(s,
		field{"key", r.RoomKey},
		field{"name", r.Name},
		field{"desc", r.Desc},
		field{"bits", r.Bits.String()},
	)
}

func (r *Room) LoadFields(s *storage.Set) error {
	r.RoomKey = s.ReadString("key")
	r.Name = s.ReadString("name")
	r.Desc = s.ReadString("desc")
	return loadBits(r.Bits, s, "bits")
}

// Obj is an item.
type Obj struct {
	auxiliary.Holder
	UID  int64
	Name string
	Bits *bitvectors.Bitvector
}

// NewObj returns an object with the given unique id.
func NewObj(uid int64, name string) *Obj {
	return &Obj{UID: uid, Name: name, Bits: mustBits("obj_bits")}
}

func (o *Obj) Kind() string   { return TagObject }
func (o *Obj) Key() string    { return strconv.FormatInt(o.UID, 10) }
func (o *Obj) String() string { return fmt.Sprintf("object %s (#%d)", o.Name, o.UID) }

func (o *Obj) StoreFields(s *storage.Set) error {
	return storeAll(s,
		field{"uid", o.UID},
		field{"name", o.Name},
		field{"bits", o.Bits.String()},
	)
}

func (o *Obj) LoadFields(s *storage.Set) error {
	o.UID = s.ReadInt("uid")
	o.Name = s.ReadString("name")
	return loadBits(o.Bits, s, "bits")
}

// Exit leads from a room in a direction to another room.
type Exit struct {
	auxiliary.Holder
	From string
	Dir  string
	To   string
}

// NewExit returns an exit from room from, direction dir, to room to.
func NewExit(from, dir, to string) *Exit {
	return &Exit{From: from, Dir: dir, To: to}
}

func (e *Exit) Kind() string   { return TagExit }
func (e *Exit) Key() string    { return e.From + "/" + e.Dir }
func (e *Exit) String() string { return fmt.Sprintf("exit %s from %s", e.Dir, e.From) }

func (e *Exit) StoreFields(s *storage.Set) error {
	return storeAll(s,
		field{"from", e.From},
		field{"dir", e.Dir},
		field{"to", e.To},
	)
}

func (e *Exit) LoadFields(s *storage.Set) error {
	e.From = s.ReadString("from")
	e.Dir = s.ReadString("dir")
	e.To = s.ReadString("to")
	return nil
}

// Socket is a connection. Its data lives only as long as the connection.
type Socket struct {
	auxiliary.Holder
	ID      uuid.UUID
	Addr    string
	Account string
}

// NewSocket returns a socket with a fresh random id.
func NewSocket(addr string) *Socket {
	return &Socket{ID: uuid.New(), Addr: addr}
}

func (s *Socket) Kind() string   { return TagSocket }
func (s *Socket) Key() string    { return s.ID.String() }
func (s *Socket) String() string { return fmt.Sprintf("socket %s (%s)", s.ID, s.Addr) }

func (s *Socket) StoreFields(set *storage.Set) error {
	return storeAll(set,
		field{"id", s.ID.String()},
		field{"addr", s.Addr},
		field{"account", s.Account},
	)
}

func (s *Socket) LoadFields(set *storage.Set) error {
	id, err := uuid.Parse(set.ReadString("id"))
	if err != nil {
		return fmt.Errorf("world: socket id: %w", err)
	}
	s.ID = id
	s.Addr = set.ReadString("addr")
	s.Account = set.ReadString("account")
	return nil
}

type field struct {
	key string
	val any
}

func storeAll(s *storage.Set, fields ...field) error {
	for _, f := range fields {
		if err := s.Set(f.key, f.val); err != nil {
			return fmt.Errorf("world: %s: %w", f.key, err)
		}
	}
	return nil
}
