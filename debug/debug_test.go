package debug

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLabels(t *testing.T) {
	t.Setenv(ENVVAR, "SCHED;WAIT")
	SetLabels("FUTEX;")
	assert.True(t, IsLabelSet(SCHED))
	assert.True(t, IsLabelSet(WAIT))
	assert.True(t, IsLabelSet(FUTEX))
	assert.True(t, IsLabelSet(ALWAYS))
	assert.True(t, IsLabelSet(ERROR))
	assert.False(t, IsLabelSet(REAPER))
	DPrintf(TEST, "not printed %v", 1)
	SetLabels("")
	assert.False(t, IsLabelSet(FUTEX))
}
