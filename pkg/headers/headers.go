// Package headers implements the case-insensitive, order-preserving header
// multimap the engine passes around for both requests and responses.
package headers

import (
	"net/textproto"
	"sort"
	"strings"
)

// noCommaJoin lists headers whose values must never be comma-joined by Get,
// because the wire format allows commas inside a single value (Set-Cookie's
// Expires attribute) or because the header is conventionally multi-valued.
var noCommaJoin = map[string]bool{
	"Set-Cookie": true,
}

type entry struct {
	name  string // name exactly as passed to the Set/Add call that stored this value
	value string
}

// Dict is a case-insensitive, insertion-order-preserving, original-case
// preserving multimap of HTTP header fields.
type Dict struct {
	order  []string          // canonical keys, insertion order
	values map[string][]entry
}

// New returns an empty Dict.
func New() *Dict {
	return &Dict{values: make(map[string][]entry)}
}

// FromMap builds a Dict from a plain map, iterating its values in whatever
// order the runtime gives (map order is not guaranteed, matching the
// "construction accepts a mapping" contract that doesn't promise ordering
// beyond what the source itself had).
func FromMap(m map[string][]string) *Dict {
	d := New()
	for name, values := range m {
		for _, v := range values {
			d.Add(name, v)
		}
	}
	return d
}

// Clone returns a deep copy.
func Clone(src *Dict) *Dict {
	d := New()
	if src == nil {
		return d
	}
	for _, key := range src.order {
		for _, e := range src.values[key] {
			d.Add(e.name, e.value)
		}
	}
	return d
}

func canon(name string) string {
	return textproto.CanonicalMIMEHeaderKey(name)
}

// Set replaces all existing values for name with a single value.
func (d *Dict) Set(name, value string) {
	key := canon(name)
	if _, ok := d.values[key]; !ok {
		d.order = append(d.order, key)
	}
	d.values[key] = []entry{{name: name, value: value}}
}

// Add appends a value under name, preserving any existing values.
func (d *Dict) Add(name, value string) {
	key := canon(name)
	if _, ok := d.values[key]; !ok {
		d.order = append(d.order, key)
	}
	d.values[key] = append(d.values[key], entry{name: name, value: value})
}

// Get returns all values for name joined with ", ", or "" if absent.
// Set-Cookie (and any other no-comma-join header) returns only its first
// value here; callers needing every Set-Cookie MUST use GetAll.
func (d *Dict) Get(name string) string {
	key := canon(name)
	entries, ok := d.values[key]
	if !ok || len(entries) == 0 {
		return ""
	}
	if noCommaJoin[key] {
		return entries[0].value
	}
	vals := make([]string, len(entries))
	for i, e := range entries {
		vals[i] = e.value
	}
	return strings.Join(vals, ", ")
}

// GetAll returns every value stored under name, in insertion order.
func (d *Dict) GetAll(name string) []string {
	key := canon(name)
	entries, ok := d.values[key]
	if !ok {
		return nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}

// Has reports whether name has at least one value.
func (d *Dict) Has(name string) bool {
	_, ok := d.values[canon(name)]
	return ok
}

// Remove deletes every value stored under name.
func (d *Dict) Remove(name string) {
	key := canon(name)
	if _, ok := d.values[key]; !ok {
		return
	}
	delete(d.values, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Names yields the canonical header names in insertion order.
func (d *Dict) Names() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// RawItems yields every (name, value) pair in insertion order, exactly as
// they would be serialized on the wire.
func (d *Dict) RawItems() [][2]string {
	var out [][2]string
	for _, key := range d.order {
		for _, e := range d.values[key] {
			out = append(out, [2]string{e.name, e.value})
		}
	}
	return out
}

// Equal reports equality by lowercased-name multiset equality: same set of
// names, same multiset of values per name, regardless of insertion order.
func Equal(a, b *Dict) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.values) != len(b.values) {
		return false
	}
	for key, aVals := range a.values {
		bVals, ok := b.values[key]
		if !ok || len(aVals) != len(bVals) {
			return false
		}
		av := valuesOf(aVals)
		bv := valuesOf(bVals)
		sort.Strings(av)
		sort.Strings(bv)
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
	}
	return true
}

func valuesOf(entries []entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.value
	}
	return out
}
