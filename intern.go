package feindexer

// Interner coalesces identical strings to one shared instance. It belongs to
// a single lookup build and is dropped with it.
type Interner struct {
	m map[string]string
}

// NewInterner returns an empty Interner.
func NewInterner() *Interner {
	return &Interner{m: make(map[string]string)}
}

// Intern returns the canonical instance of s.
func (in *Interner) Intern(s string) string {
	if c, ok := in.m[s]; ok {
		return c
	}
	in.m[s] = s
	return s
}

// Len returns the number of distinct strings seen.
func (in *Interner) Len() int { return len(in.m) }
