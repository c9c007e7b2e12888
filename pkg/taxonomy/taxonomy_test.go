package taxonomy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSuperTypeCaseInsensitive(t *testing.T) {
	tax := NewDefault()

	for _, code := range []string{"OBSERVABLE", "observable", "Observable"} {
		st, err := tax.ResolveSuperType(code)
		require.NoError(t, err, "code %q should resolve", code)
		assert.Equal(t, "OBSERVABLE", st.Code)
	}
}

func TestResolveTypeCaseInsensitive(t *testing.T) {
	tax := NewDefault()

	ty, err := tax.ResolveType("observable", "ipv4")
	require.NoError(t, err)
	assert.Equal(t, "IPV4", ty.Code)
	assert.Equal(t, "OBSERVABLE", ty.SuperTypeCode)
}

func TestResolveUnknownCodes(t *testing.T) {
	tax := NewDefault()

	_, err := tax.ResolveSuperType("BOGUS")
	assert.ErrorIs(t, err, ErrUnknownSuperType)

	_, err = tax.ResolveType("OBSERVABLE", "BOGUS")
	assert.ErrorIs(t, err, ErrUnknownType)

	// Unknown super-type also fails type resolution
	_, err = tax.ResolveType("BOGUS", "IPV4")
	assert.ErrorIs(t, err, ErrUnknownSuperType)
}

func TestTypeScopedToSuperType(t *testing.T) {
	tax := NewDefault()

	// GENERIC exists under both THREAT and EVENT, IPV4 only under OBSERVABLE
	_, err := tax.ResolveType("THREAT", "GENERIC")
	assert.NoError(t, err)
	_, err = tax.ResolveType("EVENT", "GENERIC")
	assert.NoError(t, err)
	_, err = tax.ResolveType("THREAT", "IPV4")
	assert.Error(t, err)
}

func TestRegisterTypeRequiresSuperType(t *testing.T) {
	tax := New()

	err := tax.RegisterType(Type{Code: "IPV4", SuperTypeCode: "OBSERVABLE"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownSuperType))
}

func TestListingIsSorted(t *testing.T) {
	tax := NewDefault()

	supers := tax.SuperTypes()
	require.NotEmpty(t, supers)
	for i := 1; i < len(supers); i++ {
		assert.Less(t, supers[i-1].Code, supers[i].Code)
	}

	types := tax.TypesOf("observable")
	require.NotEmpty(t, types)
	for i := 1; i < len(types); i++ {
		assert.Less(t, types[i-1].Code, types[i].Code)
	}
}
