package expand

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString(t *testing.T) {
	e := New()
	vars := map[string]any{
		"name": "hydro",
		"port": 8888,
		"user": map[string]any{"lang": "en"},
	}

	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"no placeholders", "no placeholders"},
		{"hi ${name}", "hi hydro"},
		{"http://host:$port/", "http://host:8888/"},
		{"${user.lang}", "en"},
		{"$portal", "$portal"},
		{"${missing} $missing", "${missing} $missing"},
	}
	for _, tt := range tests {
		got, err := e.String(tt.in, vars)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestMissingModes(t *testing.T) {
	got, err := New(WithMissing(Empty)).String("a${x}b", nil)
	require.NoError(t, err)
	assert.Equal(t, "ab", got)

	_, err = New(WithMissing(Fail)).String("${x} $y", nil)
	var undef *UndefinedError
	require.ErrorAs(t, err, &undef)
	assert.Equal(t, []string{"x", "y"}, undef.Names)
	assert.Contains(t, err.Error(), "x, y")
}

func TestStyleToggles(t *testing.T) {
	vars := map[string]any{"v": 1}

	got, _ := New(WithBrace(false)).String("${v} $v", vars)
	assert.Equal(t, "${v} 1", got)

	got, _ = New(WithDollar(false)).String("${v} $v", vars)
	assert.Equal(t, "1 $v", got)
}

func TestValueRecurses(t *testing.T) {
	out, err := New().Value(map[string]any{
		"dir":   "$root/data",
		"list":  []any{"${root}", 3},
		"count": 2,
	}, map[string]any{"root": "/srv"})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"dir":   "/srv/data",
		"list":  []any{"/srv", 3},
		"count": 2,
	}, out)
}

func TestSettingDefault(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, os.TempDir()+"/hydro", SettingDefault("$TEMP/hydro"))
	assert.Equal(t, home+"/.hydro", SettingDefault("$HOME/.hydro"))
	assert.Equal(t, "${TEMP}", SettingDefault("${TEMP}"))
	assert.Equal(t, 5, SettingDefault(5))
}
