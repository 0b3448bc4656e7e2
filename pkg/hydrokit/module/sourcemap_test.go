package module

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inlineMap(json string) string {
	return InlineMapPrefix + base64.StdEncoding.EncodeToString([]byte(json))
}

func TestDecodeVLQ(t *testing.T) {
	got, err := decodeVLQ("AAgBC")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 16, 1}, got)

	got, err = decodeVLQ("D")
	require.NoError(t, err)
	assert.Equal(t, []int{-1}, got)

	_, err = decodeVLQ("g")
	assert.Error(t, err)
	_, err = decodeVLQ("!")
	assert.Error(t, err)
}

func TestParseMap(t *testing.T) {
	m, err := ParseMap("out.lua", []byte(`{"version":3,"sources":["a.lua","b.lua"],"mappings":"AAAA;AACA;;ACEA"}`))
	require.NoError(t, err)

	p, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, Position{Source: "a.lua", Line: 1}, p)

	p, _ = m.Lookup(2)
	assert.Equal(t, Position{Source: "a.lua", Line: 2}, p)

	_, ok = m.Lookup(3)
	assert.False(t, ok)

	p, _ = m.Lookup(4)
	assert.Equal(t, Position{Source: "b.lua", Line: 4}, p)

	_, err = ParseMap("out.lua", []byte(`{"version":2}`))
	assert.Error(t, err)
}

func TestInlineMap(t *testing.T) {
	code := "error('boom')\n" + inlineMap(`{"version":3,"sources":["orig.lua"],"mappings":"AASA"}`) + "\n"

	m, err := InlineMap("dir/gen.lua", code)
	require.NoError(t, err)
	p, ok := m.Lookup(1)
	require.True(t, ok)
	assert.Equal(t, Position{Source: "orig.lua", Line: 10}, p)

	m, err = InlineMap("dir/gen.lua", "return 1\n")
	require.NoError(t, err)
	assert.Nil(t, m)

	_, err = InlineMap("dir/gen.lua", InlineMapPrefix+"%%%")
	assert.Error(t, err)
}

func TestSourceMapsRewrite(t *testing.T) {
	maps := NewSourceMaps()
	m, err := ParseMap("dir/gen.lua", []byte(`{"version":3,"sources":["orig.lua"],"mappings":"AASA"}`))
	require.NoError(t, err)
	maps.Set("dir/gen.lua", m)

	assert.Equal(t, "orig.lua:10: boom", maps.Rewrite("dir/gen.lua:1: boom"))
	assert.Equal(t, "dir/gen.lua:7: unmapped", maps.Rewrite("dir/gen.lua:7: unmapped"))
	assert.Equal(t, "other/x.lua:1: kept", maps.Rewrite("other/x.lua:1: kept"))

	maps.Delete("dir/gen.lua")
	_, ok := maps.Get("dir/gen.lua")
	assert.False(t, ok)
}
