package realtime

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// fakeConn implements Conn for tests. failSends makes WriteMessage fail.
type fakeConn struct {
	mu        sync.Mutex
	frames    [][]byte
	failSends bool
	closed    bool
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failSends {
		return errors.New("broken pipe")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.frames = append(c.frames, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) Frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func (c *fakeConn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func TestRegistry_AddRemove(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	assert.Zero(t, reg.Count())

	reg.Add(NewClient("a", &fakeConn{}))
	reg.Add(NewClient("b", &fakeConn{}))
	assert.Equal(t, 2, reg.Count())

	reg.Remove("a")
	assert.Equal(t, 1, reg.Count())

	// Removing an absent id is a no-op.
	reg.Remove("a")
	reg.Remove("never-there")
	assert.Equal(t, 1, reg.Count())
}

func TestRegistry_Snapshot(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(nil, nil)
	reg.Add(NewClient("a", &fakeConn{}))
	reg.Add(NewClient("b", &fakeConn{}))

	snapshot := reg.Snapshot()
	assert.Len(t, snapshot, 2)

	// Mutating the registry does not affect the snapshot.
	reg.Remove("a")
	assert.Len(t, snapshot, 2)
	assert.Equal(t, 1, reg.Count())
}
