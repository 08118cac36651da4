package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeReleasesInReverse(t *testing.T) {
	var order []string
	s := NewScope()
	for _, name := range []string{"options", "session", "input", "output"} {
		s.Add(name, func() error {
			order = append(order, name)
			return nil
		})
	}
	assert.Equal(t, 4, s.Len())
	require.NoError(t, s.Close())
	assert.Equal(t, []string{"output", "input", "session", "options"}, order)
	assert.Zero(t, s.Len())

	require.NoError(t, s.Close())
	assert.Len(t, order, 4, "second close releases nothing")
}

func TestScopeCollectsErrors(t *testing.T) {
	released := 0
	s := NewScope()
	boom := errors.New("boom")
	bang := errors.New("bang")
	s.Add("first", func() error { released++; return boom })
	s.Add("second", func() error { released++; return nil })
	s.Add("third", func() error { released++; return bang })

	err := s.Close()
	require.Error(t, err)
	assert.Equal(t, 3, released)
	assert.Contains(t, err.Error(), "third: bang")
	assert.Contains(t, err.Error(), "first: boom")
	assert.True(t, errors.Is(err, boom))
	assert.True(t, errors.Is(err, bang))
}
