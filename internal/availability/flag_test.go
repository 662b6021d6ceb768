package availability

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlagStartsUnavailable(t *testing.T) {
	f := NewFlag()
	assert.False(t, f.Available())
}

func TestFlagNotifiesOnlyOnChange(t *testing.T) {
	f := NewFlag()
	var got []bool
	f.Subscribe(func(v bool) { got = append(got, v) })

	assert.False(t, f.Set(false))
	assert.True(t, f.Set(true))
	assert.False(t, f.Set(true))
	assert.True(t, f.Set(false))
	assert.False(t, f.Set(false))

	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, f.Available())
}

func TestFlagConcurrentSettersPublishOnce(t *testing.T) {
	f := NewFlag()
	var n int32
	f.Subscribe(func(bool) { atomic.AddInt32(&n, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.Set(true)
		}()
	}
	wg.Wait()
	assert.True(t, f.Available())
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
}
