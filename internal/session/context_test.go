package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_GetSetRoundTrip(t *testing.T) {
	c := NewContext()
	_, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("key", "value")
	v, ok := c.Get("key")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}

func TestContext_FromParentIsOneShotCopy(t *testing.T) {
	parent := NewContext()
	parent.Set("a", 1)

	child := NewContextFromParent(parent)
	v, ok := child.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	parent.Set("a", 2)
	parent.Set("b", 3)
	v, _ = child.Get("a")
	assert.Equal(t, 1, v)
	_, ok = child.Get("b")
	assert.False(t, ok)

	child.Set("a", 99)
	v, _ = parent.Get("a")
	assert.Equal(t, 2, v)
}

func TestContext_FromNilParentIsEmpty(t *testing.T) {
	c := NewContextFromParent(nil)
	assert.Empty(t, c.Keys())
}

func TestContext_KeysReflectsAllSetValues(t *testing.T) {
	c := NewContext()
	c.Set("a", 1)
	c.Set("b", 2)
	assert.ElementsMatch(t, []string{"a", "b"}, c.Keys())
}
