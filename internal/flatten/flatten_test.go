package flatten

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/csvjson/internal/record"
)

func mustObject(t *testing.T, src string) *record.Object {
	t.Helper()
	v, err := record.ParseString(src)
	require.NoError(t, err)
	obj, ok := v.(*record.Object)
	require.True(t, ok, "not an object: %s", src)
	return obj
}

func marshal(t *testing.T, v any) string {
	t.Helper()
	b, err := record.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

var expandAll = Options{Objects: true, Arrays: true}

func TestFlatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		opts Options
		want string
	}{
		{
			name: "objects and arrays",
			in:   `{"id":1,"region":{"loc":"NSW"},"phones":[{"type":"mobile","n":"1"},{"type":"home"}]}`,
			opts: expandAll,
			want: `{"id":1,"region.loc":"NSW","phones[0].type":"mobile","phones[0].n":"1","phones[1].type":"home"}`,
		},
		{
			name: "objects embedded",
			in:   `{"id":1,"region":{"loc":"NSW"}}`,
			opts: Options{Arrays: true},
			want: `{"id":1,"region":"{\"loc\":\"NSW\"}"}`,
		},
		{
			name: "arrays embedded",
			in:   `{"tags":["a","b"],"m":{"x":[1]}}`,
			opts: Options{Objects: true},
			want: `{"tags":"[\"a\",\"b\"]","m.x":"[1]"}`,
		},
		{
			name: "nested arrays",
			in:   `{"grid":[[1,2],[3]]}`,
			opts: expandAll,
			want: `{"grid[0][0]":1,"grid[0][1]":2,"grid[1][0]":3}`,
		},
		{
			name: "array members expand even when objects are embedded",
			in:   `{"p":[{"a":{"b":1},"c":2}]}`,
			opts: Options{Arrays: true},
			want: `{"p[0].a":"{\"b\":1}","p[0].c":2}`,
		},
		{
			name: "custom separator and prefix",
			in:   `{"a":{"b":null}}`,
			opts: Options{Objects: true, Separator: "__", Prefix: "root"},
			want: `{"root__a__b":null}`,
		},
		{
			name: "empty containers are leaves",
			in:   `{"o":{},"a":[]}`,
			opts: expandAll,
			want: `{"o":{},"a":[]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Flatten(mustObject(t, tt.in), tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.want, marshal(t, got))
		})
	}
}

func TestFlatten_OverrideKeys(t *testing.T) {
	in := mustObject(t, `{"a":{"x":1},"b":[2,3]}`)

	opts := expandAll
	opts.OverrideKeys = []string{"A", "B0", "B1"}
	got, err := Flatten(in, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B0", "B1"}, got.Keys())
	assert.Equal(t, `{"A":1,"B0":2,"B1":3}`, marshal(t, got))

	opts.OverrideKeys = []string{"A", "B0"}
	_, err = Flatten(in, opts)
	assert.ErrorIs(t, err, ErrOverrideExhausted)
}

func TestKeys(t *testing.T) {
	in := mustObject(t, `{"a":{"x":1,"y":[true]},"b":"s"}`)
	keys, err := Keys(in, expandAll)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.x", "a.y[0]", "b"}, keys)

	keys, err = Keys(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	withOverride := expandAll
	withOverride.OverrideKeys = []string{"ignored"}
	keys, err = Keys(in, withOverride)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.x", "a.y[0]", "b"}, keys)
}

func TestKeys_Collision(t *testing.T) {
	in := mustObject(t, `{"a":{"b":1},"a.b":2}`)
	_, err := Keys(in, expandAll)
	require.ErrorIs(t, err, ErrDuplicateKey)
	assert.Contains(t, err.Error(), `"a.b"`)

	keys, err := Keys(in, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "a.b"}, keys)
}

func TestRoundTrip(t *testing.T) {
	docs := []string{
		`{}`,
		`{"a":1,"b":"two","c":null,"d":false,"e":1.5}`,
		`{"region":{"loc":"NSW","geo":{"lat":-33.8,"lng":151.2}}}`,
		`{"phones":[{"type":"mobile","n":"1"},{"type":"home"}],"id":7}`,
		`{"grid":[[1,2],[3,[4,5]]]}`,
		`{"o":{},"a":[],"deep":{"e":{},"l":[[],{}]}}`,
		`{"mixed":[1,"x",{"k":[true,null]}]}`,
	}

	for _, sep := range []string{".", "/", "__"} {
		for _, doc := range docs {
			t.Run(sep+" "+doc, func(t *testing.T) {
				in := mustObject(t, doc)
				opts := expandAll
				opts.Separator = sep

				flat, err := Flatten(in, opts)
				require.NoError(t, err)
				back := Unflatten(flat, sep)
				assert.True(t, record.Equal(in, back), "got %s", marshal(t, back))

				again, err := Flatten(back, opts)
				require.NoError(t, err)
				assert.True(t, record.Equal(flat, again))
			})
		}
	}
}

func TestUnflatten(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "pads missing array slots",
			in:   `{"a[2]":1}`,
			want: `{"a":[{},{},1]}`,
		},
		{
			name: "objects inside arrays",
			in:   `{"p[1].t":"home","p[0].t":"mobile"}`,
			want: `{"p":[{"t":"mobile"},{"t":"home"}]}`,
		},
		{
			name: "container replaces scalar",
			in:   `{"a":1,"a.b":2}`,
			want: `{"a":{"b":2}}`,
		},
		{
			name: "plain keys",
			in:   `{"x":"1","y":null}`,
			want: `{"x":"1","y":null}`,
		},
		{
			name: "brackets without index stay literal",
			in:   `{"a[]":1,"b[x]":2}`,
			want: `{"a[]":1,"b[x]":2}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Unflatten(mustObject(t, tt.in), "")
			assert.Equal(t, tt.want, marshal(t, got))
		})
	}
}

func TestUnwrapEmbedded(t *testing.T) {
	row := record.FromPairs("meta", `{"a":1}`)
	got := UnwrapEmbedded(row, ".")
	assert.Equal(t, `{"meta.a":1}`, marshal(t, got))
	assert.Equal(t, `{"meta":"{\"a\":1}"}`, marshal(t, row), "input row must not change")

	row = record.FromPairs(
		"id", int64(1),
		"info", ` {'city': 'Oslo', 'tags': ['x', 'y']} `,
		"empty", "{}",
		"broken", "{nope",
		"list", "[1,2]",
	)
	got = UnwrapEmbedded(row, "/")
	assert.Equal(t,
		`{"id":1,"info/city":"Oslo","info/tags[0]":"x","info/tags[1]":"y","empty":"{}","broken":"{nope","list":"[1,2]"}`,
		marshal(t, got))
}

func TestParseMaybe(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: `{"a":[1,2.5]}`, want: `{"a":[1,2.5]}`},
		{in: `["x"]`, want: `["x"]`},
		{in: `{'a': 'b', 'n': None, 't': True}`, want: `{"a":"b","n":null,"t":true}`},
		{in: `(1, 2)`, want: `[1,2]`},
		{in: `'quoted'`, want: `"quoted"`},
		{in: `None`, want: `null`},
		{in: `False`, want: `false`},
		{in: `plain text`, want: `"plain text"`},
		{in: `123`, want: `"123"`},
		{in: `{broken`, want: `"{broken"`},
		{in: int64(5), want: `5`},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, marshal(t, ParseMaybe(tt.in)), "%v", tt.in)
	}
}
