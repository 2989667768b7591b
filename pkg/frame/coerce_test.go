package frame

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestToFloat64(t *testing.T) {
	tests := []struct {
		name   string
		input  any
		want   float64
		wantOK bool
	}{
		{name: "float", input: 1.5, want: 1.5, wantOK: true},
		{name: "int", input: 3, want: 3, wantOK: true},
		{name: "uint8", input: uint8(1), want: 1, wantOK: true},
		{name: "json number", input: json.Number("29.85"), want: 29.85, wantOK: true},
		{name: "text", input: " 1889.5 ", want: 1889.5, wantOK: true},
		{name: "blank text", input: " ", wantOK: false},
		{name: "garbage", input: "n/a", wantOK: false},
		{name: "nil", input: nil, wantOK: false},
		{name: "bool", input: true, wantOK: false},
		{name: "nan float", input: math.NaN(), wantOK: false},
		{name: "infinite float", input: math.Inf(1), wantOK: false},
		{name: "nan text", input: "NaN", wantOK: false},
		{name: "infinite text", input: "-Inf", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ToFloat64(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.InDelta(t, tt.want, got, 1e-9)
			}
		})
	}
}

func TestIsMissing(t *testing.T) {
	assert.True(t, IsMissing(nil))
	assert.True(t, IsMissing(math.NaN()))
	assert.True(t, IsMissing(float32(math.NaN())))
	assert.False(t, IsMissing(0.0))
	assert.False(t, IsMissing("NaN"))
}

func TestToBool(t *testing.T) {
	b, ok := ToBool(1.0)
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = ToBool("false")
	assert.True(t, ok)
	assert.False(t, b)

	_, ok = ToBool(2)
	assert.False(t, ok)

	_, ok = ToBool("Yes")
	assert.False(t, ok)
}

func TestToInt64(t *testing.T) {
	i, ok := ToInt64("42")
	assert.True(t, ok)
	assert.Equal(t, int64(42), i)

	i, ok = ToInt64(json.Number("7"))
	assert.True(t, ok)
	assert.Equal(t, int64(7), i)

	_, ok = ToInt64(1.5)
	assert.False(t, ok)
}

func TestToTimestamp(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)

	got, ok := ToTimestamp("2024-05-01 10:30:00")
	assert.True(t, ok)
	assert.True(t, want.Equal(got))

	got, ok = ToTimestamp(float64(want.Unix()))
	assert.True(t, ok)
	assert.True(t, want.Equal(got))

	_, ok = ToTimestamp("yesterday")
	assert.False(t, ok)
}

func TestCoerce(t *testing.T) {
	v, ok := Coerce("12", TypeFloat64)
	assert.True(t, ok)
	assert.Equal(t, 12.0, v)

	v, ok = Coerce(12.0, TypeString)
	assert.True(t, ok)
	assert.Equal(t, "12", v)

	_, ok = Coerce(nil, TypeString)
	assert.False(t, ok)
}
