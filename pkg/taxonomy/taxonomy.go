package taxonomy

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common sentinel errors
var (
	ErrUnknownSuperType = errors.New("unknown entity super-type")
	ErrUnknownType      = errors.New("unknown entity type")
)

// SuperType is a coarse entity category (OBSERVABLE, ACTOR, THREAT, ...).
// Reference data, immutable once registered.
type SuperType struct {
	Code        string `json:"short_name"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Icon        string `json:"nf_icon,omitempty"`
}

// Type is a fine-grained entity type under exactly one super-type
// (IPV4 under OBSERVABLE). Unique per (code, super-type).
type Type struct {
	Code          string `json:"short_name"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Icon          string `json:"nf_icon,omitempty"`
	SuperTypeCode string `json:"super_type"`
}

// Taxonomy is the static registry of entity super-types and types.
// Lookups are case-insensitive on codes. It is built once at startup
// and never mutated afterwards, so reads need no locking.
type Taxonomy struct {
	superTypes map[string]SuperType
	types      map[string]map[string]Type // super-type code -> type code -> Type
}

// New creates an empty taxonomy.
func New() *Taxonomy {
	return &Taxonomy{
		superTypes: make(map[string]SuperType),
		types:      make(map[string]map[string]Type),
	}
}

// RegisterSuperType adds a super-type to the registry. Re-registering the
// same code replaces the previous definition.
func (t *Taxonomy) RegisterSuperType(st SuperType) {
	st.Code = strings.ToUpper(st.Code)
	t.superTypes[st.Code] = st
	if t.types[st.Code] == nil {
		t.types[st.Code] = make(map[string]Type)
	}
}

// RegisterType adds a type under its super-type. The super-type must have
// been registered first.
func (t *Taxonomy) RegisterType(ty Type) error {
	ty.Code = strings.ToUpper(ty.Code)
	ty.SuperTypeCode = strings.ToUpper(ty.SuperTypeCode)
	if _, ok := t.superTypes[ty.SuperTypeCode]; !ok {
		return fmt.Errorf("register type %s: %w: %s", ty.Code, ErrUnknownSuperType, ty.SuperTypeCode)
	}
	t.types[ty.SuperTypeCode][ty.Code] = ty
	return nil
}

// ResolveSuperType looks up a super-type by code, case-insensitively.
func (t *Taxonomy) ResolveSuperType(code string) (SuperType, error) {
	st, ok := t.superTypes[strings.ToUpper(code)]
	if !ok {
		return SuperType{}, fmt.Errorf("%w: %s", ErrUnknownSuperType, code)
	}
	return st, nil
}

// ResolveType looks up a type by (super-type code, type code), case-insensitively.
func (t *Taxonomy) ResolveType(superTypeCode, code string) (Type, error) {
	sub, ok := t.types[strings.ToUpper(superTypeCode)]
	if !ok {
		return Type{}, fmt.Errorf("%w: %s", ErrUnknownSuperType, superTypeCode)
	}
	ty, ok := sub[strings.ToUpper(code)]
	if !ok {
		return Type{}, fmt.Errorf("%w: %s/%s", ErrUnknownType, superTypeCode, code)
	}
	return ty, nil
}

// SuperTypes returns all registered super-types sorted by code.
func (t *Taxonomy) SuperTypes() []SuperType {
	out := make([]SuperType, 0, len(t.superTypes))
	for _, st := range t.superTypes {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// TypesOf returns all types under a super-type sorted by code.
func (t *Taxonomy) TypesOf(superTypeCode string) []Type {
	sub := t.types[strings.ToUpper(superTypeCode)]
	out := make([]Type, 0, len(sub))
	for _, ty := range sub {
		out = append(out, ty)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
