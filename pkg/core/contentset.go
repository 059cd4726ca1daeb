package core

import (
	"errors"
	"fmt"
	"sort"
)

var ErrDuplicatePath = errors.New("duplicate relative path in content set")

// ContentSet is the content of one repository version, keyed by path.
// A path appears at most once.
type ContentSet struct {
	units map[string]FileContent
}

func NewContentSet(units ...FileContent) (*ContentSet, error) {
	s := &ContentSet{units: make(map[string]FileContent, len(units))}
	for _, u := range units {
		if _, dup := s.units[u.RelativePath]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, u.RelativePath)
		}
		s.units[u.RelativePath] = u
	}
	return s, nil
}

// EmptyContentSet is the content of version 0.
func EmptyContentSet() *ContentSet {
	return &ContentSet{units: map[string]FileContent{}}
}

func (s *ContentSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.units)
}

func (s *ContentSet) Get(path string) (FileContent, bool) {
	if s == nil {
		return FileContent{}, false
	}
	u, ok := s.units[path]
	return u, ok
}

// Has reports whether the exact (path, digest) pair is present.
func (s *ContentSet) Has(k Key) bool {
	u, ok := s.Get(k.Path)
	return ok && u.Digest == k.Digest
}

// Put adds u, replacing whatever unit held its path.
func (s *ContentSet) Put(u FileContent) {
	s.units[u.RelativePath] = u
}

func (s *ContentSet) Remove(path string) {
	delete(s.units, path)
}

// Units returns the units sorted by relative path.
func (s *ContentSet) Units() []FileContent {
	if s == nil {
		return nil
	}
	out := make([]FileContent, 0, len(s.units))
	for _, u := range s.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelativePath < out[j].RelativePath })
	return out
}

func (s *ContentSet) Clone() *ContentSet {
	c := &ContentSet{units: make(map[string]FileContent, s.Len())}
	if s != nil {
		for p, u := range s.units {
			c.units[p] = u
		}
	}
	return c
}

// Equal compares natural keys only; storage refs of equal digests are
// interchangeable.
func (s *ContentSet) Equal(o *ContentSet) bool {
	if s.Len() != o.Len() {
		return false
	}
	for _, u := range s.Units() {
		if !o.Has(u.Key()) {
			return false
		}
	}
	return true
}
