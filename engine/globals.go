package engine

import (
	"fmt"
	"slices"
	"sort"
)

// GlobalInfo describes a declared global.
type GlobalInfo struct {
	Name string `cbor:"name" json:"name"`
	Kind Kind   `cbor:"kind" json:"kind"`
}

// global is VM-resident storage for one declared global. Array globals
// carry both an indexed part and an associative part.
type global struct {
	name   string
	kind   Kind
	value  Value
	assocI map[string]int64
	assocF map[string]float64
}

func newGlobal(d decl) *global {
	g := &global{name: d.name, kind: d.kind, value: Value{Kind: d.kind}}
	switch d.kind {
	case KindIntArray:
		g.value.Ints = make([]int64, d.size)
		g.assocI = make(map[string]int64)
	case KindFloatArray:
		g.value.Floats = make([]float64, d.size)
		g.assocF = make(map[string]float64)
	}
	return g
}

// coerce adapts v for storage in a global of kind k. Ints widen to float.
func coerce(k Kind, v Value) (Value, bool) {
	if v.Kind == k {
		return v, true
	}
	if k == KindFloat && v.Kind == KindInt {
		return FloatValue(float64(v.Int)), true
	}
	return Value{}, false
}

func (g *global) set(v Value) error {
	switch {
	case v.Kind == KindAssocIntArray && g.kind == KindIntArray:
		for k, x := range v.AssocInts {
			g.assocI[k] = x
		}
		return nil
	case v.Kind == KindAssocFloatArray && g.kind == KindFloatArray:
		for k, x := range v.AssocFloats {
			g.assocF[k] = x
		}
		return nil
	}
	cv, ok := coerce(g.kind, v)
	if !ok {
		return fmt.Errorf("global '%s' is %s, cannot assign %s", g.name, g.kind, v.Kind)
	}
	switch g.kind {
	case KindIntArray:
		g.value.Ints = slices.Clone(cv.Ints)
	case KindFloatArray:
		g.value.Floats = slices.Clone(cv.Floats)
	default:
		g.value = cv
	}
	return nil
}

func (g *global) get(k Kind) (Value, error) {
	if k.storage() != g.kind {
		return Value{}, fmt.Errorf("global '%s' is %s, not %s", g.name, g.kind, k)
	}
	switch k {
	case KindAssocIntArray:
		return AssocIntValue(g.assocI), nil
	case KindAssocFloatArray:
		return AssocFloatValue(g.assocF), nil
	}
	return g.value.Clone(), nil
}

func (g *global) setIndex(k Kind, i int, v Value) error {
	if k.storage() != g.kind || !g.kind.IsArray() {
		return fmt.Errorf("global '%s' is %s, not %s", g.name, g.kind, k)
	}
	cv, ok := coerce(g.kind.Element(), v)
	if !ok {
		return fmt.Errorf("global '%s' holds %s elements, cannot assign %s", g.name, g.kind.Element(), v.Kind)
	}
	switch g.kind {
	case KindIntArray:
		if i < 0 || i >= len(g.value.Ints) {
			return fmt.Errorf("index %d out of bounds for '%s' (size %d)", i, g.name, len(g.value.Ints))
		}
		g.value.Ints[i] = cv.Int
	case KindFloatArray:
		if i < 0 || i >= len(g.value.Floats) {
			return fmt.Errorf("index %d out of bounds for '%s' (size %d)", i, g.name, len(g.value.Floats))
		}
		g.value.Floats[i] = cv.Float
	}
	return nil
}

func (g *global) getIndex(k Kind, i int) (Value, error) {
	if k.storage() != g.kind || !g.kind.IsArray() {
		return Value{}, fmt.Errorf("global '%s' is %s, not %s", g.name, g.kind, k)
	}
	switch g.kind {
	case KindIntArray:
		if i < 0 || i >= len(g.value.Ints) {
			return Value{}, fmt.Errorf("index %d out of bounds for '%s' (size %d)", i, g.name, len(g.value.Ints))
		}
		return IntValue(g.value.Ints[i]), nil
	default:
		if i < 0 || i >= len(g.value.Floats) {
			return Value{}, fmt.Errorf("index %d out of bounds for '%s' (size %d)", i, g.name, len(g.value.Floats))
		}
		return FloatValue(g.value.Floats[i]), nil
	}
}

func (g *global) setKey(k Kind, key string, v Value) error {
	if k.storage() != g.kind || !g.kind.IsArray() {
		return fmt.Errorf("global '%s' is %s, not %s", g.name, g.kind, k)
	}
	cv, ok := coerce(g.kind.Element(), v)
	if !ok {
		return fmt.Errorf("global '%s' holds %s elements, cannot assign %s", g.name, g.kind.Element(), v.Kind)
	}
	if g.kind == KindIntArray {
		g.assocI[key] = cv.Int
	} else {
		g.assocF[key] = cv.Float
	}
	return nil
}

func (g *global) getKey(k Kind, key string) (Value, error) {
	if k.storage() != g.kind || !g.kind.IsArray() {
		return Value{}, fmt.Errorf("global '%s' is %s, not %s", g.name, g.kind, k)
	}
	if g.kind == KindIntArray {
		x, ok := g.assocI[key]
		if !ok {
			return Value{}, fmt.Errorf("key %q not found in '%s'", key, g.name)
		}
		return IntValue(x), nil
	}
	x, ok := g.assocF[key]
	if !ok {
		return Value{}, fmt.Errorf("key %q not found in '%s'", key, g.name)
	}
	return FloatValue(x), nil
}

func sortedGlobals(vars map[string]*global, events map[string]*event) []GlobalInfo {
	out := make([]GlobalInfo, 0, len(vars))
	for _, g := range vars {
		out = append(out, GlobalInfo{Name: g.name, Kind: g.kind})
	}
	for _, ev := range events {
		if ev.declared {
			out = append(out, GlobalInfo{Name: ev.name, Kind: KindEvent})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
