// Package entitypath implements EntityPath, the addressable identifier of
// a logical object in the log: an ordered sequence of non-empty path parts
// such as /camera/left/points.
package entitypath

import (
	"strconv"
	"strings"
)

// Path is an ordered sequence of non-empty parts. The root path is the
// empty sequence and renders as "/".
type Path struct {
	parts []string
}

// Root is the empty entity path.
var Root = Path{}

// New builds a Path from already-split, non-empty parts.
func New(parts ...string) Path {
	cp := make([]string, len(parts))
	copy(cp, parts)
	return Path{parts: cp}
}

// Parse splits a slash-separated string into a Path. Leading, trailing, and
// repeated slashes are collapsed; an empty or "/" input yields Root.
func Parse(s string) Path {
	raw := strings.Split(s, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return Path{parts: parts}
}

// Parts returns the path's components. The returned slice must not be
// mutated by the caller.
func (p Path) Parts() []string { return p.parts }

// Len returns the number of parts.
func (p Path) Len() int { return len(p.parts) }

// IsRoot reports whether this is the root path.
func (p Path) IsRoot() bool { return len(p.parts) == 0 }

// String renders the canonical slash-separated form, e.g. "/camera/left".
func (p Path) String() string {
	if len(p.parts) == 0 {
		return "/"
	}
	return "/" + strings.Join(p.parts, "/")
}

// Child returns a new path with an additional trailing part.
func (p Path) Child(part string) Path {
	cp := make([]string, len(p.parts)+1)
	copy(cp, p.parts)
	cp[len(p.parts)] = part
	return Path{parts: cp}
}

// Parent returns the path with its last part removed, and true, or the
// zero Path and false if called on the root.
func (p Path) Parent() (Path, bool) {
	if len(p.parts) == 0 {
		return Path{}, false
	}
	return Path{parts: p.parts[:len(p.parts)-1]}, true
}

// Equal reports whether two paths have identical parts.
func (p Path) Equal(other Path) bool {
	if len(p.parts) != len(other.parts) {
		return false
	}
	for i := range p.parts {
		if p.parts[i] != other.parts[i] {
			return false
		}
	}
	return true
}

// Compare orders paths lexicographically by part, then by length — the
// "natural order" the data model requires for deterministic iteration
// (e.g. Chunk schema enumeration).
func Compare(a, b Path) int {
	for i := 0; i < len(a.parts) && i < len(b.parts); i++ {
		if c := naturalCompare(a.parts[i], b.parts[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a.parts) < len(b.parts):
		return -1
	case len(a.parts) > len(b.parts):
		return 1
	default:
		return 0
	}
}

// naturalCompare compares two path segments the way a human would sort
// filenames: embedded numeric runs are compared numerically so that
// "frame2" sorts before "frame10".
func naturalCompare(a, b string) int {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		ca, cb := a[i], b[j]
		if isDigit(ca) && isDigit(cb) {
			ni, na := scanNumber(a, i)
			nj, nb := scanNumber(b, j)
			if na != nb {
				an, _ := strconv.Atoi(na)
				bn, _ := strconv.Atoi(nb)
				if an != bn {
					if an < bn {
						return -1
					}
					return 1
				}
			}
			i, j = ni, nj
			continue
		}
		if ca != cb {
			if ca < cb {
				return -1
			}
			return 1
		}
		i++
		j++
	}
	switch {
	case len(a)-i < len(b)-j:
		return -1
	case len(a)-i > len(b)-j:
		return 1
	default:
		return 0
	}
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func scanNumber(s string, i int) (next int, num string) {
	start := i
	for i < len(s) && isDigit(s[i]) {
		i++
	}
	return i, s[start:i]
}

// HashKey returns a canonical string form suitable for use as a map key.
// Path itself holds a slice and so is not comparable with ==.
func (p Path) HashKey() string { return p.String() }
