package ra

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkopriv2/relay/jms"
	"github.com/pkopriv2/relay/xa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLock_Exclusive(t *testing.T) {
	l := newSessionLock()

	release, err := l.acquire(context.Background(), 0)
	require.Nil(t, err)
	assert.True(t, l.held())

	_, err = l.acquire(context.Background(), 20*time.Millisecond)
	assert.True(t, jms.Is(err, jms.ResourceAllocationError))

	release()
	assert.False(t, l.held())

	release, err = l.acquire(context.Background(), 20*time.Millisecond)
	require.Nil(t, err)
	release()
}

func TestSessionLock_ReentrantForOwner(t *testing.T) {
	l := newSessionLock()
	ctx := xa.NewContext(context.Background(), xa.NewXid())

	r1, err := l.acquire(ctx, 0)
	require.Nil(t, err)
	r2, err := l.acquire(ctx, 0)
	require.Nil(t, err)

	_, err = l.acquire(context.Background(), 20*time.Millisecond)
	assert.NotNil(t, err)

	_, err = l.acquire(xa.NewContext(context.Background(), xa.NewXid()), 20*time.Millisecond)
	assert.NotNil(t, err)

	r2()
	assert.True(t, l.held())
	r1()
	assert.False(t, l.held())
}

func TestSessionLock_ReleaseIsIdempotent(t *testing.T) {
	l := newSessionLock()

	r1, err := l.acquire(context.Background(), 0)
	require.Nil(t, err)
	r1()
	r1()

	r2, err := l.acquire(context.Background(), 0)
	require.Nil(t, err)
	r1()
	assert.True(t, l.held())

	_, err = l.acquire(context.Background(), 20*time.Millisecond)
	assert.NotNil(t, err)
	r2()
}

func TestSessionLock_Canceled(t *testing.T) {
	l := newSessionLock()
	release, err := l.acquire(context.Background(), 0)
	require.Nil(t, err)
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = l.acquire(ctx, 0)
	assert.True(t, jms.Is(err, jms.ResourceAllocationError))
}

func TestSessionLock_Fair(t *testing.T) {
	l := newSessionLock()
	release, err := l.acquire(context.Background(), 0)
	require.Nil(t, err)

	var lock sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := l.acquire(context.Background(), 0)
			if err != nil {
				return
			}
			lock.Lock()
			order = append(order, i)
			lock.Unlock()
			r()
		}(i)
		time.Sleep(10 * time.Millisecond)
	}

	release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}
