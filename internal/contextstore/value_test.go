package contextstore

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValuePreservesNumbersAndShape(t *testing.T) {
	t.Parallel()

	raw := `{"big":12345678901234567890,"pi":3.14159,"list":[1,"two",null,false],"nested":{"x":{}}}`
	v, err := ParseValue([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, KindObject, v.Kind())

	big, ok := v.Field("big")
	require.True(t, ok)
	n, ok := big.AsNumber()
	require.True(t, ok)
	assert.Equal(t, json.Number("12345678901234567890"), n)

	list, _ := v.Field("list")
	items, ok := list.AsList()
	require.True(t, ok)
	require.Len(t, items, 4)
	assert.True(t, items[2].IsNull())

	encoded, err := json.Marshal(v)
	require.NoError(t, err)
	again, err := ParseValue(encoded)
	require.NoError(t, err)
	assert.True(t, v.Equal(again))
}

func TestParseValueRejectsTrailingData(t *testing.T) {
	t.Parallel()

	_, err := ParseValue([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)
	_, err = ParseValue([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestValueCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := MustFromInterface(map[string]any{"items": []any{"a"}})
	clone := original.Clone()
	mutated := clone.withField("items", List(String("b")))

	items, _ := original.Field("items")
	assert.True(t, items.Equal(List(String("a"))))
	assert.False(t, mutated.Equal(original))
}

func TestValueEqualDistinguishesKinds(t *testing.T) {
	t.Parallel()

	assert.False(t, String("1").Equal(Int(1)))
	assert.False(t, Null().Equal(Bool(false)))
	assert.False(t, List().Equal(EmptyObject()))
	assert.True(t, Float(0.5).Equal(Number("0.5")))
}

func TestZeroValueIsNull(t *testing.T) {
	t.Parallel()

	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, "null", v.String())
}

func TestFromInterfaceRejectsUnknownTypes(t *testing.T) {
	t.Parallel()

	_, err := FromInterface(struct{}{})
	assert.Error(t, err)
	assert.Panics(t, func() { MustFromInterface(make(chan int)) })
}
