package usecase

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostScope(t *testing.T) {
	s := NewHostScope("www.justice.gov", " WWW.FBI.GOV ", "")
	assert.True(t, s.Allows("www.justice.gov"))
	assert.True(t, s.Allows("www.fbi.gov"))
	assert.True(t, s.Allows("WWW.Justice.gov"))
	assert.False(t, s.Allows("evil.example.com"))
	assert.False(t, s.Allows(""))

	assert.True(t, NewHostScope().Allows("anything.example.com"), "empty scope admits every host")
}
