package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		segs []Segment
	}{
		{"/", nil},
		{"/a", []Segment{{Name: "a"}}},
		{"/a/b", []Segment{{Name: "a"}, {Name: "b"}}},
		{"/a/b[2]", []Segment{{Name: "a"}, {Name: "b", Index: 2}}},
		{"/foo[1]/bar[10]", []Segment{{Name: "foo", Index: 1}, {Name: "bar", Index: 10}}},
	}
	for _, tc := range cases {
		p, err := ParsePath(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.segs, p.Segments(), tc.in)
	}
}

func TestParsePath_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "a/b", "/a//b", "/a/", "/a[", "/a[x]", "/a[-1]", "/[2]"} {
		_, err := ParsePath(in)
		assert.Error(t, err, "input %q", in)
	}
}

func TestPath_String(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"/", "/a", "/a/b[2]/c", "/foo[3]"} {
		assert.Equal(t, s, MustParsePath(s).String())
	}
	// Index 1 and the wildcard print bare.
	assert.Equal(t, "/a/b", NewPath(Segment{Name: "a", Index: 1}, Segment{Name: "b"}).String())
}

func TestPath_ChildParentTruncate(t *testing.T) {
	t.Parallel()

	p := MustParsePath("/a/b[2]")
	c := p.Child(Segment{Name: "c", Index: 3})

	assert.Equal(t, "/a/b[2]/c[3]", c.String())
	assert.Equal(t, 3, c.Depth())
	assert.True(t, c.Parent().Equal(p))
	assert.True(t, c.Truncate(1).Equal(MustParsePath("/a")))
	assert.True(t, c.Truncate(0).IsRoot())
	assert.True(t, c.Truncate(9).Equal(c))
	assert.True(t, Root.Parent().IsRoot())
}

// Child must not alias the parent's backing array: extending the same
// prefix twice has to yield two independent paths.
func TestPath_ChildDoesNotAlias(t *testing.T) {
	t.Parallel()

	p := MustParsePath("/a")
	b := p.Child(Segment{Name: "b"})
	c := p.Child(Segment{Name: "c"})

	assert.Equal(t, "/a/b", b.String())
	assert.Equal(t, "/a/c", c.String())
}

func TestPath_IsAncestorOf(t *testing.T) {
	t.Parallel()

	a := MustParsePath("/a")
	ab := MustParsePath("/a/b")
	ab2 := MustParsePath("/a/b[2]")

	assert.True(t, Root.IsAncestorOf(a))
	assert.True(t, a.IsAncestorOf(ab))
	assert.False(t, a.IsAncestorOf(a))
	assert.False(t, ab.IsAncestorOf(a))
	assert.False(t, ab.IsAncestorOf(ab2))
	// The wildcard and index 1 name the same sibling.
	assert.True(t, MustParsePath("/a[1]").IsAncestorOf(ab))
}

func TestPath_EqualNormalizesIndex(t *testing.T) {
	t.Parallel()

	assert.True(t, MustParsePath("/a/b").Equal(MustParsePath("/a[1]/b[1]")))
	assert.False(t, MustParsePath("/a/b").Equal(MustParsePath("/a/b[2]")))
	assert.False(t, MustParsePath("/a").Equal(MustParsePath("/a/b")))
}

func TestSegment_NormIndex(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, Segment{Name: "a"}.NormIndex())
	assert.Equal(t, 1, Segment{Name: "a", Index: 1}.NormIndex())
	assert.Equal(t, 7, Segment{Name: "a", Index: 7}.NormIndex())
}
