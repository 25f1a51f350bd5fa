package sets

import (
	"golang.org/x/exp/constraints"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/mel2oo/go-tcpflow/optionals"
)

type Set[T comparable] map[T]struct{}

func NewSet[T comparable](vs ...T) Set[T] {
	s := make(Set[T], len(vs))
	for _, v := range vs {
		s.Insert(v)
	}
	return s
}

func (s Set[T]) Equals(other Set[T]) bool {
	if len(s) != len(other) {
		return false
	}
	for elt := range s {
		if _, exists := other[elt]; !exists {
			return false
		}
	}
	return true
}

func (s Set[T]) IsEmpty() bool {
	return len(s) == 0
}

func (s Set[T]) Size() int {
	return len(s)
}

// Converts v to an optional value, depending on whether it is a member of s.
// Returns Some(v) if s contains v. Returns None otherwise.
func (s Set[T]) Get(v T) optionals.Optional[T] {
	if s.Contains(v) {
		return optionals.Some(v)
	}
	return optionals.None[T]()
}

func (s Set[T]) Contains(v T) bool {
	_, exists := s[v]
	return exists
}

func (s Set[T]) ContainsAll(vs ...T) bool {
	for _, v := range vs {
		if !s.Contains(v) {
			return false
		}
	}
	return true
}

func (s Set[T]) Insert(vs ...T) {
	for _, v := range vs {
		s[v] = struct{}{}
	}
}

func (s Set[T]) Delete(vs ...T) {
	for _, v := range vs {
		delete(s, v)
	}
}

func (s Set[T]) Clone() Set[T] {
	return maps.Clone(s)
}

// AsSlice returns the set as a slice in a nondeterministic order.
func (s Set[T]) AsSlice() []T {
	rv := make([]T, 0, len(s))
	for x := range s {
		rv = append(rv, x)
	}
	return rv
}

// AsSortedSlice returns the set as a sorted slice.
func AsSortedSlice[T constraints.Ordered](s Set[T]) []T {
	rv := maps.Keys(s)
	slices.Sort(rv)
	return rv
}
