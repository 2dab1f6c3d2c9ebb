package sshchain

import (
	"net"
	"sync"
)

// trackedConn is a connection opened through the chain end that the chain
// keeps a handle on so Disconnect can close it if the caller has not.
type trackedConn struct {
	net.Conn
	onClose func()
	once    sync.Once
}

func (c *trackedConn) Close() error {
	var err error
	c.once.Do(func() {
		err = c.Conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

// track registers a connection for teardown on Disconnect. The returned
// conn removes itself from the registry when closed by the caller.
func (c *Chain) track(conn net.Conn) net.Conn {
	tc := &trackedConn{Conn: conn}
	tc.onClose = func() { c.untrack(tc) }
	c.mu.Lock()
	c.conns = append(c.conns, tc)
	c.mu.Unlock()
	return tc
}

func (c *Chain) untrack(tc *trackedConn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.conns {
		if existing == tc {
			c.conns = append(c.conns[:i], c.conns[i+1:]...)
			return
		}
	}
}
