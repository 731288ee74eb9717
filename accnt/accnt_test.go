package accnt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAdd(t *testing.T) {
	var a, b Accnt_t
	a.Utadd(int(2 * time.Millisecond))
	a.Systadd(int(time.Millisecond))
	b.Utadd(int(time.Millisecond))
	b.Add(&a)
	ru := b.Fetch()
	assert.Equal(t, 3*time.Millisecond, ru.Utime)
	assert.Equal(t, time.Millisecond, ru.Stime)
	assert.Contains(t, ru.String(), "user 3ms")
}

func TestFinish(t *testing.T) {
	var a Accnt_t
	start := a.Now()
	time.Sleep(time.Millisecond)
	a.Finish(start)
	assert.GreaterOrEqual(t, a.Fetch().Stime, time.Millisecond)
}
