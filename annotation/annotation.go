// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package annotation accumulates typed annotations, such as test counters
// and tags, in an immutable map.
//
// Each [Key] carries an initial value and an associative combine operator.
// [Annotate] folds a new value into a key with that operator and [Combine]
// merges two maps key by key.
package annotation

import (
	"maps"
	"slices"

	"code.hybscloud.com/fiber"
	"code.hybscloud.com/kont"
)

// Key is a typed annotation descriptor. Keys are compared by identity.
type Key[A any] struct {
	name    string
	initial A
	combine func(A, A) A
}

// NewKey returns a key named name whose value starts at initial and
// accumulates through combine.
func NewKey[A any](name string, initial A, combine func(A, A) A) *Key[A] {
	return &Key[A]{name: name, initial: initial, combine: combine}
}

func (k *Key[A]) Name() string { return k.name }
func (k *Key[A]) Initial() A    { return k.initial }

// Combine merges two values of k.
func (k *Key[A]) Combine(a, b A) A {
	return k.combine(a, b)
}

func (k *Key[A]) combineAny(a, b any) any {
	return k.combine(a.(A), b.(A))
}

type anyKey interface {
	Name() string
	combineAny(a, b any) any
}

// Map is an immutable annotation map. The zero value is empty.
type Map struct {
	entries map[anyKey]any
}

// Empty returns a map holding no annotations.
func Empty() Map {
	return Map{}
}

// Len returns the number of keys present in m.
func (m Map) Len() int {
	return len(m.entries)
}

// Names returns the names of the keys present in m, sorted.
func (m Map) Names() []string {
	names := make([]string, 0, len(m.entries))
	for k := range m.entries {
		names = append(names, k.Name())
	}
	slices.Sort(names)
	return names
}

// Get returns the value of k in m, or k's initial value.
func Get[A any](m Map, k *Key[A]) A {
	if v, ok := m.entries[k]; ok {
		return v.(A)
	}
	return k.initial
}

// Overwrite returns m with k set to v.
func Overwrite[A any](m Map, k *Key[A], v A) Map {
	next := make(map[anyKey]any, len(m.entries)+1)
	maps.Copy(next, m.entries)
	next[k] = v
	return Map{entries: next}
}

// Update returns m with k set to f of its current value.
func Update[A any](m Map, k *Key[A], f func(A) A) Map {
	return Overwrite(m, k, f(Get(m, k)))
}

// Annotate returns m with v folded into k by k's combine operator.
func Annotate[A any](m Map, k *Key[A], v A) Map {
	return Update(m, k, func(old A) A { return k.combine(old, v) })
}

// Combine merges a and b key by key. Keys present in both are merged with
// their combine operator, a's value first; a key present in only one map
// keeps that map's value unchanged.
func Combine(a, b Map) Map {
	next := make(map[anyKey]any, len(a.entries)+len(b.entries))
	maps.Copy(next, a.entries)
	for k, v := range b.entries {
		if old, ok := next[k]; ok {
			next[k] = k.combineAny(old, v)
			continue
		}
		next[k] = v
	}
	return Map{entries: next}
}

// Current is the annotation map of the running fiber. Forked fibers start
// from an empty map so their annotations can be merged back with [Combine].
var Current = fiber.NewFiberRefWithFork("annotations", Empty(), func(Map) Map { return Empty() })

// Record folds v into k in the running fiber's annotation map.
func Record[A any](k *Key[A], v A) kont.Expr[struct{}] {
	return kont.ExprThen(fiber.Update(Current, func(m Map) Map {
		return Annotate(m, k, v)
	}), fiber.Unit())
}

// Collect runs body and completes with its value and the annotations it
// recorded, which are also merged into the running fiber's map.
func Collect[A any](body kont.Expr[A]) kont.Expr[Collected[A]] {
	return kont.ExprBind(fiber.Get(Current), func(outer Map) kont.Expr[Collected[A]] {
		inner := fiber.Locally(Current, Empty(), kont.ExprBind(body, func(a A) kont.Expr[Collected[A]] {
			return kont.ExprMap(fiber.Get(Current), func(m Map) Collected[A] {
				return Collected[A]{Value: a, Annotations: m}
			})
		}))
		return kont.ExprBind(inner, func(c Collected[A]) kont.Expr[Collected[A]] {
			return kont.ExprMap(fiber.Set(Current, Combine(outer, c.Annotations)), func(struct{}) Collected[A] {
				return c
			})
		})
	})
}

// Collected pairs a value with the annotations recorded while computing it.
type Collected[A any] struct {
	Value       A
	Annotations Map
}
