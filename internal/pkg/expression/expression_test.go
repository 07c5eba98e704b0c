package expression

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBasicGrammar_Compile(t *testing.T) {
	g := BasicGrammar{}

	f, err := g.Compile(`ip.src == 1.2.3.4`)
	require.NoError(t, err)
	qs, ok := f["query_string"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, `ip.src == 1.2.3.4`, qs["query"])

	_, err = g.Compile("")
	assert.Error(t, err)
}

func TestTimeRange_InclusiveAndExclusive(t *testing.T) {
	inclusive := TimeRange("lastPacket", 100, 200, false)
	rng := inclusive["range"].(map[string]any)["lastPacket"].(map[string]any)
	assert.Equal(t, int64(100), rng["gte"])
	assert.Equal(t, int64(200), rng["lte"])
	assert.NotContains(t, rng, "lt")

	exclusive := TimeRange("lastPacket", 100, 200, true)
	rng2 := exclusive["range"].(map[string]any)["lastPacket"].(map[string]any)
	assert.Equal(t, int64(200), rng2["lt"])
	assert.NotContains(t, rng2, "lte")
}

func TestCompiler_Compile_CombinesForcedAndUser(t *testing.T) {
	c := New(BasicGrammar{})

	f, err := c.Compile("http.uri == /foo", "ip.src == 10.0.0.0/8", 0, 1000, false)
	require.NoError(t, err)

	must, ok := f["bool"].(map[string]any)["must"].([]Filter)
	require.True(t, ok)
	// user expr, forced expr, time range
	assert.Len(t, must, 3)
}

func TestCompiler_Compile_OmitsEmptyForced(t *testing.T) {
	c := New(BasicGrammar{})

	f, err := c.Compile("http.uri == /foo", "", 0, 1000, false)
	require.NoError(t, err)

	must := f["bool"].(map[string]any)["must"].([]Filter)
	assert.Len(t, must, 2)
}

type errGrammar struct{ err error }

func (g errGrammar) Compile(expr string) (Filter, error) { return nil, g.err }

func TestCompiler_Compile_WrapsGrammarError(t *testing.T) {
	wantErr := errors.New("bad syntax")
	c := New(errGrammar{err: wantErr})

	_, err := c.Compile("garbage", "", 0, 1000, false)
	require.Error(t, err)

	var compileErr *CompileError
	require.ErrorAs(t, err, &compileErr)
	assert.Equal(t, "garbage", compileErr.Expression)
	assert.ErrorIs(t, err, wantErr)
}

func TestLookupTable_AddAndContains(t *testing.T) {
	lt := NewLookupTable(10, 0.001)

	lt.Add("10.0.0.1")
	lt.Add("10.0.0.2")

	assert.True(t, lt.Contains("10.0.0.1"))
	assert.True(t, lt.Contains("10.0.0.2"))
	assert.False(t, lt.Contains("10.0.0.3"))
	assert.Equal(t, 2, lt.Len())
}

func TestLookupTable_Replace(t *testing.T) {
	lt := NewLookupTable(10, 0.001)
	lt.Add("old-value")
	require.True(t, lt.Contains("old-value"))

	lt.Replace([]string{"new-a", "new-b"})

	assert.False(t, lt.Contains("old-value"))
	assert.True(t, lt.Contains("new-a"))
	assert.True(t, lt.Contains("new-b"))
	assert.Equal(t, 2, lt.Len())
}
