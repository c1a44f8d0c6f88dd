// Package attrs implements the multi-valued attribute map shared by task
// specs, calls, and the option/syntax engine.
package attrs

// Attrs is a multi-valued, ordered string map. A name never maps to the
// empty sequence: once a name appears it has at least one value, though
// individual values may be the empty string.
type Attrs map[string][]string

// New returns an empty Attrs map.
func New() Attrs {
	return make(Attrs)
}

// Add appends value to name's sequence, creating it if absent.
func (a Attrs) Add(name, value string) {
	a[name] = append(a[name], value)
}

// Has reports whether name has at least one recorded value.
func (a Attrs) Has(name string) bool {
	_, ok := a[name]
	return ok
}

// First returns name's first value and whether it was present.
func (a Attrs) First(name string) (string, bool) {
	v, ok := a[name]
	if !ok || len(v) == 0 {
		return "", false
	}
	return v[0], true
}

// Bool reports whether name is present and its first value is not "false"
// or empty-with-no-meaning. Absence means false. Presence with no
// explicit value (the `name=` or `=name` forms, yielding "") means true,
// matching run-z's attribute convention that a bare attribute is a flag.
func (a Attrs) Bool(name string) bool {
	v, ok := a.First(name)
	if !ok {
		return false
	}
	return v != "false"
}

// Merge appends every value of other into a, name by name, preserving
// call-site order. Used when a Call coalesces parameters from multiple
// call-sites in planning order.
func (a Attrs) Merge(other Attrs) {
	for name, values := range other {
		a[name] = append(a[name], values...)
	}
}

// Clone returns a deep copy.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for name, values := range a {
		cp := make([]string, len(values))
		copy(cp, values)
		out[name] = cp
	}
	return out
}

// Equal reports whether a and other hold the same names with the same
// ordered values.
func (a Attrs) Equal(other Attrs) bool {
	if len(a) != len(other) {
		return false
	}
	for name, values := range a {
		ov, ok := other[name]
		if !ok || len(ov) != len(values) {
			return false
		}
		for i, v := range values {
			if ov[i] != v {
				return false
			}
		}
	}
	return true
}
