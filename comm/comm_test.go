package comm

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendRecv_RoundTrip(t *testing.T) {
	world := NewWorld(2)
	world.Run(func(c *Comm) {
		if c.Rank() == 0 {
			require.NoError(t, c.Send(1, 7, []byte("halo layer")))
		} else {
			buf, err := c.Recv(0, 7)
			require.NoError(t, err)
			assert.Equal(t, []byte("halo layer"), buf)
		}
	})
}

func TestSend_CopiesPayload(t *testing.T) {
	world := NewWorld(2)
	world.Run(func(c *Comm) {
		if c.Rank() == 0 {
			buf := []byte{1, 2, 3}
			require.NoError(t, c.Send(1, 0, buf))
			buf[0] = 99 // mutating after send must not affect delivery
		} else {
			buf, err := c.Recv(0, 0)
			require.NoError(t, err)
			assert.Equal(t, []byte{1, 2, 3}, buf)
		}
	})
}

func TestSendRecv_TagsKeepStreamsApart(t *testing.T) {
	world := NewWorld(2)
	world.Run(func(c *Comm) {
		if c.Rank() == 0 {
			require.NoError(t, c.Send(1, 1, []byte("one")))
			require.NoError(t, c.Send(1, 2, []byte("two")))
		} else {
			// receive in the opposite order of sending
			two, err := c.Recv(0, 2)
			require.NoError(t, err)
			one, err := c.Recv(0, 1)
			require.NoError(t, err)
			assert.Equal(t, []byte("two"), two)
			assert.Equal(t, []byte("one"), one)
		}
	})
}

func TestSend_InvalidRank(t *testing.T) {
	world := NewWorld(1)
	c := world.Comm(0)
	err := c.Send(3, 0, nil)
	require.Error(t, err)
	var commErr *CommunicationError
	assert.ErrorAs(t, err, &commErr)
}

func TestIsendIrecv_PostThenConsume(t *testing.T) {
	world := NewWorld(2)
	world.Run(func(c *Comm) {
		peer := 1 - c.Rank()
		payload := []byte(fmt.Sprintf("from %d", c.Rank()))
		sreq := c.Isend(peer, 5, payload)
		rreq := c.Irecv(peer, 5)

		buf, err := rreq.Wait()
		require.NoError(t, err)
		assert.Equal(t, []byte(fmt.Sprintf("from %d", peer)), buf)
		_, err = sreq.Wait()
		require.NoError(t, err)
	})
}

func TestRequest_WaitIdempotent(t *testing.T) {
	world := NewWorld(2)
	world.Run(func(c *Comm) {
		if c.Rank() == 0 {
			require.NoError(t, c.Send(1, 0, []byte("x")))
			return
		}
		req := c.Irecv(0, 0)
		buf, err := req.Wait()
		require.NoError(t, err)
		again, err := req.Wait()
		require.NoError(t, err)
		assert.Equal(t, buf, again)
		assert.True(t, req.Done())
	})
}

func TestBarrier_NoRankRunsAhead(t *testing.T) {
	const ranks = 4
	world := NewWorld(ranks)
	var mu sync.Mutex
	arrived := 0
	world.Run(func(c *Comm) {
		mu.Lock()
		arrived++
		mu.Unlock()
		c.Barrier()
		mu.Lock()
		assert.Equal(t, ranks, arrived, "rank %d passed the barrier early", c.Rank())
		mu.Unlock()
	})
}

func TestBarrier_Reusable(t *testing.T) {
	world := NewWorld(3)
	done := make(chan struct{})
	go func() {
		world.Run(func(c *Comm) {
			for i := 0; i < 100; i++ {
				c.Barrier()
			}
		})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("barrier deadlocked")
	}
}
