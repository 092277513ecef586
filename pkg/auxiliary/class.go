package auxiliary

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// Data is the contract every auxiliary data class satisfies.
//
// Init is called once on a zero value with the subtree saved under the
// class's name, or nil for a fresh owner. Copy returns a detached duplicate.
// CopyTo copies the receiver's state onto to, which is always of the same
// class, and returns it. Store returns the state to persist, or nil if there
// is none.
type Data interface {
	Init(tree *storage.Set) error
	Copy() Data
	CopyTo(to Data) Data
	Store() *storage.Set
}

// OwnerAware is implemented by data that wants a reference to its owner.
// Embedding Base is the usual way to get it.
type OwnerAware interface {
	SetOwner(ref Ref)
}

var (
	dataType     = reflect.TypeFor[Data]()
	requiredFunc = []string{"Init", "Copy", "CopyTo", "Store"}
)

// class is an installed auxiliary data type.
type class struct {
	name string       // registered auxiliary name
	typ  reflect.Type // pointer type implementing Data
}

func (c *class) String() string { return c.typ.String() }

// newClass validates proto and returns its descriptor. proto is a value of
// the class, typically a nil pointer such as (*Counter)(nil).
func newClass(name string, proto any) (*class, error) {
	if proto == nil {
		return nil, fmt.Errorf("%w: nil class for %q", ErrInvalidClass, name)
	}
	typ := reflect.TypeOf(proto)
	if typ.Kind() != reflect.Pointer || typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: %s must be a pointer to a struct", ErrInvalidClass, typ)
	}
	if !typ.Implements(dataType) {
		var missing []string
		for _, m := range requiredFunc {
			if _, ok := typ.MethodByName(m); !ok {
				missing = append(missing, m)
			}
		}
		if len(missing) == 0 {
			return nil, fmt.Errorf("%w: %s has the auxiliary data methods with the wrong signatures",
				ErrInvalidClass, typ)
		}
		return nil, fmt.Errorf("%w: %s does not provide %s, required to act as auxiliary data",
			ErrInvalidClass, typ, strings.Join(missing, ", "))
	}
	return &class{name: name, typ: typ}, nil
}

// instantiate allocates a zero value of the class.
func (c *class) instantiate() Data {
	return reflect.New(c.typ.Elem()).Interface().(Data)
}
