package inference

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// Scope releases registered resources in reverse order of acquisition.
//
// A Scope is closed exactly once, normally with defer right after creation, so every exit path
// releases what was acquired up to that point.
type Scope struct {
	releasers []releaser
	closed    bool
}

type releaser struct {
	name    string
	release func() error
}

// NewScope returns an empty scope.
func NewScope() *Scope {
	return &Scope{}
}

// Add registers a release function for a named resource.
func (s *Scope) Add(name string, release func() error) {
	s.releasers = append(s.releasers, releaser{name: name, release: release})
}

// Len returns the number of resources still held.
func (s *Scope) Len() int {
	return len(s.releasers)
}

// Close releases every resource, newest first. Errors are joined and each one stays reachable with
// errors.Is; a failing release does not stop the others.
func (s *Scope) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var failed []error
	for i := len(s.releasers) - 1; i >= 0; i-- {
		r := s.releasers[i]
		if err := r.release(); err != nil {
			failed = append(failed, errors.Wrap(err, r.name))
		}
	}
	s.releasers = nil
	if len(failed) > 0 {
		return errors.Wrap(stderrors.Join(failed...), "releasing resources")
	}
	return nil
}
