// Package dynvars attaches free-form variables to characters, rooms and
// objects, for scripts ported from NakedMud's getvar/setvar.
package dynvars

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/crystal-mush/nakedsun/pkg/auxiliary"
	"github.com/crystal-mush/nakedsun/pkg/storage"
)

// AuxName is the auxiliary data name, shared with NakedMud data files.
const AuxName = "dyn_var_aux_data"

// InstallsOn lists the owner types that carry variables.
const InstallsOn = "character, room, object"

// ErrInvalidValue is returned by Set for values that are not bool, numbers
// or strings.
var ErrInvalidValue = errors.New("dynvars: invalid data type")

// Vars is the auxiliary data holding the variables.
type Vars struct {
	data map[string]any
}

// Install registers Vars with reg.
func Install(reg *auxiliary.Registry) error {
	return reg.Install(AuxName, (*Vars)(nil), InstallsOn)
}

func (v *Vars) Init(tree *storage.Set) error {
	v.data = make(map[string]any)
	if tree == nil {
		return nil
	}
	for key, val := range tree.All() {
		if _, ok := val.(*storage.Set); ok {
			continue
		}
		if _, ok := val.(*storage.List); ok {
			continue
		}
		v.data[key] = val
	}
	return nil
}

func (v *Vars) Copy() auxiliary.Data { return v.CopyTo(&Vars{}) }

func (v *Vars) CopyTo(to auxiliary.Data) auxiliary.Data {
	to.(*Vars).data = maps.Clone(v.data)
	return to
}

func (v *Vars) Store() *storage.Set {
	s := storage.NewSet()
	for _, key := range slices.Sorted(maps.Keys(v.data)) {
		// Keys and values were checked by Set.
		_ = s.Set(key, v.data[key])
	}
	return s
}

// Keys returns the sorted variable names.
func (v *Vars) Keys() []string {
	return slices.Sorted(maps.Keys(v.data))
}

func vars(reg *auxiliary.Registry, thing auxiliary.Owner) (*Vars, error) {
	return auxiliary.Lookup[*Vars](reg, thing, AuxName)
}

// Get returns the variable key on thing, or 0 if it is not set. Values
// loaded from a file come back with the storage engine's inferred types.
func Get(reg *auxiliary.Registry, thing auxiliary.Owner, key string) (any, error) {
	v, err := vars(reg, thing)
	if err != nil {
		return nil, err
	}
	if val, ok := v.data[key]; ok {
		return val, nil
	}
	return 0, nil
}

// Set assigns a variable. val must be a bool, an integer or float, or a
// string.
func Set(reg *auxiliary.Registry, thing auxiliary.Owner, key string, val any) error {
	switch val.(type) {
	case bool, string, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
	default:
		return fmt.Errorf("%w: %T", ErrInvalidValue, val)
	}
	if err := storage.CheckKey(key); err != nil {
		return fmt.Errorf("dynvars: %w", err)
	}
	v, err := vars(reg, thing)
	if err != nil {
		return err
	}
	v.data[key] = val
	return nil
}

// Delete removes a variable. Deleting one that is not set does nothing.
func Delete(reg *auxiliary.Registry, thing auxiliary.Owner, key string) error {
	v, err := vars(reg, thing)
	if err != nil {
		return err
	}
	delete(v.data, key)
	return nil
}

// Has reports whether thing has the variable key.
func Has(reg *auxiliary.Registry, thing auxiliary.Owner, key string) (bool, error) {
	v, err := vars(reg, thing)
	if err != nil {
		return false, err
	}
	_, ok := v.data[key]
	return ok, nil
}
