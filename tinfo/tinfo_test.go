package tinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ksched/defs"
)

func TestKill(t *testing.T) {
	var n Tnote_t
	n.Kill()
	assert.True(t, n.Killed)
	assert.Equal(t, -defs.EINTR, n.Kerr)
	n.Clearkill()
	assert.False(t, n.Killed)

	n.Doom()
	assert.True(t, n.Doomed())
	n.Clearkill()
	assert.True(t, n.Killed)
	assert.Equal(t, -defs.EINTR, n.Kerr)
}
