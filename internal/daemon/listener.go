package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neboloop/canvas/internal/protocol"
)

const writeTimeout = 10 * time.Second

// conn is one client connection. Responses and watch events share its
// writer, so every write holds wmu for a whole line.
type conn struct {
	id  string
	nc  net.Conn
	wmu sync.Mutex

	closeOnce sync.Once
	inflight  sync.WaitGroup
}

func newConn(nc net.Conn) *conn {
	return &conn{id: uuid.NewString(), nc: nc}
}

func (c *conn) write(v any) error {
	line, err := protocol.Encode(v)
	if err != nil {
		return err
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	c.nc.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err = c.nc.Write(line)
	return err
}

// Send makes a connection a watch sink.
func (c *conn) Send(ev protocol.Event) error {
	return c.write(ev)
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.nc.Close() })
	return err
}

// serveConn reads frames until the peer closes. Each frame is handled on its
// own goroutine so a slow request never blocks a fast one.
func (s *Server) serveConn(ctx context.Context, c *conn) {
	log := s.logger.With("conn", c.id)
	log.Debug("connection opened")
	defer func() {
		c.inflight.Wait()
		if n := s.watch.RemoveSink(c); n > 0 {
			log.Debug("dropped subscriptions", "count", n)
		}
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		c.Close()
		log.Debug("connection closed")
	}()

	lb := protocol.NewLineBuffer(s.cfg.MaxFrameBytes)
	buf := make([]byte, 64*1024)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			frames, ferr := lb.Feed(buf[:n])
			for _, f := range frames {
				c.inflight.Add(1)
				go func() {
					defer c.inflight.Done()
					s.handleFrame(ctx, c, f)
				}()
			}
			var tooLarge *protocol.FrameTooLargeError
			if errors.As(ferr, &tooLarge) {
				for range tooLarge.Lines {
					if werr := c.write(protocol.Failure(protocol.UnknownID, protocol.InvalidRequest("%v", ferr))); werr != nil {
						return
					}
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read", "error", err)
			}
			return
		}
	}
}
