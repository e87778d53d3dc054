package record

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromAny_DecodedJSON(t *testing.T) {
	var raw any
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Jane","score":7.5,"tags":["a","b"],"open":true,"owner":null}`), &raw))

	v := FromAny(raw)
	require.Equal(t, KindObject, v.Kind())

	name, ok := v.Get("name")
	require.True(t, ok)
	assert.Equal(t, "Jane", name.Str())

	score, _ := v.Get("score")
	assert.Equal(t, 7.5, score.Num())

	tags, _ := v.Get("tags")
	require.Equal(t, KindArray, tags.Kind())
	assert.Len(t, tags.Items(), 2)

	owner, _ := v.Get("owner")
	assert.True(t, owner.IsNull())
}

func TestValue_MarshalJSON_SortedKeys(t *testing.T) {
	v := Object(Fields{
		"b": Number(2),
		"a": String("x"),
		"c": Array(Bool(true), Null()),
	})

	b, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"x","b":2,"c":[true,null]}`, string(b))
}

func TestValue_Equal(t *testing.T) {
	ts := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	a := Object(Fields{"when": Time(ts), "items": Array(Number(1), String("two"))})
	b := Object(Fields{"when": Time(ts), "items": Array(Number(1), String("two"))})
	c := Object(Fields{"when": Time(ts), "items": Array(Number(1))})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, String("1").Equal(Number(1)))
}

func TestWalk_PreservesShapeAndFieldNames(t *testing.T) {
	v := Object(Fields{
		"email":  String("a@b.com"),
		"emails": Array(String("c@d.com"), String("e@f.com")),
		"nested": Object(Fields{"phone": String("555")}),
	})

	seen := map[string]int{}
	out := Walk(v, "", func(field string, s Value) Value {
		seen[field]++
		return String(strings.ToUpper(s.Str()))
	})

	assert.Equal(t, map[string]int{"email": 1, "emails": 2, "phone": 1}, seen)

	emails, _ := out.Get("emails")
	require.Len(t, emails.Items(), 2)
	assert.Equal(t, "C@D.COM", emails.Items()[0].Str())

	nested, _ := out.Get("nested")
	phone, _ := nested.Get("phone")
	assert.Equal(t, "555", phone.Str())

	// original untouched
	email, _ := v.Get("email")
	assert.Equal(t, "a@b.com", email.Str())
}

func TestCount(t *testing.T) {
	v := Array(Number(1), Object(Fields{"a": Null(), "b": Array(Bool(false))}))
	assert.Equal(t, 3, Count(v))
}
