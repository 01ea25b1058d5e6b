// Package repo holds the repository vocabulary shared by the hierarchy cache
// and the authoritative state manager: item identifiers, path segments and
// absolute paths.
//
// Paths are absolute and slash separated. A segment is a name plus a 1-based
// index that disambiguates same-name siblings: "/a/b" and "/a/b[2]" are two
// distinct siblings both named "b". Index 0 is a wildcard meaning "the first
// (or only) sibling" and normalizes to 1 on lookup.
package repo

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one path step: a name and a same-name-sibling index.
// Segments are immutable values.
type Segment struct {
	Name  string
	Index int
}

// NormIndex returns the effective index: the 0 wildcard maps to 1.
func (s Segment) NormIndex() int {
	if s.Index == 0 {
		return 1
	}
	return s.Index
}

func (s Segment) String() string {
	if s.Index > 1 {
		return s.Name + "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Name
}

// Path is an absolute repository path: the segment chain from the root.
// The zero Path (no segments) is the root path "/".
type Path struct {
	segs []Segment
}

// Root is the root path "/".
var Root = Path{}

// NewPath builds a path from segments. The slice is not retained.
func NewPath(segs ...Segment) Path {
	if len(segs) == 0 {
		return Path{}
	}
	p := Path{segs: make([]Segment, len(segs))}
	copy(p.segs, segs)
	return p
}

// ParsePath parses an absolute path of the form "/a/b[2]/c".
// "/" parses to the root path.
func ParsePath(s string) (Path, error) {
	if s == "" || s[0] != '/' {
		return Path{}, fmt.Errorf("repo: path %q is not absolute", s)
	}
	if s == "/" {
		return Path{}, nil
	}
	parts := strings.Split(s[1:], "/")
	segs := make([]Segment, 0, len(parts))
	for _, part := range parts {
		seg, err := parseSegment(part)
		if err != nil {
			return Path{}, fmt.Errorf("repo: path %q: %w", s, err)
		}
		segs = append(segs, seg)
	}
	return Path{segs: segs}, nil
}

func parseSegment(s string) (Segment, error) {
	if s == "" {
		return Segment{}, fmt.Errorf("empty segment")
	}
	name, idx := s, 0
	if open := strings.IndexByte(s, '['); open >= 0 {
		if s[len(s)-1] != ']' {
			return Segment{}, fmt.Errorf("segment %q: unterminated index", s)
		}
		n, err := strconv.Atoi(s[open+1 : len(s)-1])
		if err != nil || n < 0 {
			return Segment{}, fmt.Errorf("segment %q: bad index", s)
		}
		name, idx = s[:open], n
	}
	if name == "" {
		return Segment{}, fmt.Errorf("segment %q: empty name", s)
	}
	return Segment{Name: name, Index: idx}, nil
}

// MustParsePath is ParsePath that panics on error. For tests and fixtures.
func MustParsePath(s string) Path {
	p, err := ParsePath(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Depth is the number of segments; the root has depth 0.
func (p Path) Depth() int { return len(p.segs) }

// IsRoot reports whether p is the root path.
func (p Path) IsRoot() bool { return len(p.segs) == 0 }

// Segment returns the i-th segment (0-based).
func (p Path) Segment(i int) Segment { return p.segs[i] }

// Segments returns a copy of the segment chain.
func (p Path) Segments() []Segment {
	if len(p.segs) == 0 {
		return nil
	}
	out := make([]Segment, len(p.segs))
	copy(out, p.segs)
	return out
}

// Child returns p extended by one segment.
func (p Path) Child(seg Segment) Path {
	segs := make([]Segment, len(p.segs)+1)
	copy(segs, p.segs)
	segs[len(p.segs)] = seg
	return Path{segs: segs}
}

// Parent returns the path with the last segment dropped.
// The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p.segs) == 0 {
		return p
	}
	return Path{segs: p.segs[:len(p.segs)-1]}
}

// Truncate returns the prefix of p with the given depth.
func (p Path) Truncate(depth int) Path {
	if depth >= len(p.segs) {
		return p
	}
	return Path{segs: p.segs[:depth]}
}

// IsAncestorOf reports whether p is a strict prefix of q, comparing segments
// by name and normalized index.
func (p Path) IsAncestorOf(q Path) bool {
	if len(p.segs) >= len(q.segs) {
		return false
	}
	for i, seg := range p.segs {
		o := q.segs[i]
		if seg.Name != o.Name || seg.NormIndex() != o.NormIndex() {
			return false
		}
	}
	return true
}

// Equal reports segment-wise equality under index normalization.
func (p Path) Equal(q Path) bool {
	if len(p.segs) != len(q.segs) {
		return false
	}
	for i, seg := range p.segs {
		o := q.segs[i]
		if seg.Name != o.Name || seg.NormIndex() != o.NormIndex() {
			return false
		}
	}
	return true
}

func (p Path) String() string {
	if len(p.segs) == 0 {
		return "/"
	}
	var b strings.Builder
	for _, seg := range p.segs {
		b.WriteByte('/')
		b.WriteString(seg.String())
	}
	return b.String()
}
