package idmap_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"fenrir/internal/idmap"
)

func TestUserMapperSequentialAssignment(t *testing.T) {
	m := idmap.NewUserMapper()

	alice := m.ToInternal("alice")
	bob := m.ToInternal("bob")
	charlie := m.ToInternal("charlie")

	assert.EqualValues(t, 1, alice)
	assert.EqualValues(t, 2, bob)
	assert.EqualValues(t, 3, charlie)
}

func TestUserMapperIdempotent(t *testing.T) {
	m := idmap.NewUserMapper()

	id1 := m.ToInternal("alice")
	id2 := m.ToInternal("alice")
	id3 := m.ToInternal("alice")

	assert.Equal(t, id1, id2)
	assert.Equal(t, id1, id3)
}

func TestUserMapperBidirectional(t *testing.T) {
	m := idmap.NewUserMapper()

	id := m.ToInternal("alice")
	name, ok := m.ToExternal(id)
	assert.True(t, ok)
	assert.Equal(t, "alice", name)
}

func TestUserMapperHasExternalHasInternal(t *testing.T) {
	m := idmap.NewUserMapper()

	assert.False(t, m.HasExternal("alice"))
	id := m.ToInternal("alice")
	assert.True(t, m.HasExternal("alice"))
	assert.False(t, m.HasExternal("bob"))

	assert.True(t, m.HasInternal(id))
	assert.False(t, m.HasInternal(999))
}

func TestUserMapperToExternalUnmapped(t *testing.T) {
	m := idmap.NewUserMapper()

	_, ok := m.ToExternal(1)
	assert.False(t, ok)
}

func TestOrderRefMapperMintAndLookup(t *testing.T) {
	m := idmap.NewOrderRefMapper()

	id := m.Mint("order-ref-1")
	assert.EqualValues(t, 1, id)

	got, ok := m.Lookup("order-ref-1")
	assert.True(t, ok)
	assert.Equal(t, id, got)

	ref, ok := m.ReferenceFor(id)
	assert.True(t, ok)
	assert.Equal(t, "order-ref-1", ref)
}

func TestOrderRefMapperSequentialMint(t *testing.T) {
	m := idmap.NewOrderRefMapper()

	first := m.Mint("a")
	second := m.Mint("b")
	assert.EqualValues(t, 1, first)
	assert.EqualValues(t, 2, second)
}
