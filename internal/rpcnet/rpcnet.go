// Package rpcnet is the RPC substrate shared by the Paxos and 2PC cores:
// a typed, authenticated request/response protocol over TCP, built on
// net/rpc so that the set of callable operations is fixed at compile
// time rather than dispatched by an arbitrary client-supplied name.
package rpcnet

import (
	"net"
	"net/rpc"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Envelope carries the pre-shared auth key on every RPC argument struct.
// Handlers call CheckAuth before touching any protocol state.
type Envelope struct {
	AuthKey string
}

// CheckAuth rejects a request whose key does not match the server's
// configured key. Returning an error here surfaces as a structured RPC
// error on the caller's side; it never panics or closes the connection.
func CheckAuth(got, want string) error {
	if got != want {
		return errors.New("rpcnet: invalid auth key")
	}
	return nil
}

// Server owns one TCP listener and hands every accepted connection to
// net/rpc on its own goroutine, so workers for distinct peers run in
// parallel while each connection is served sequentially until the peer
// closes it.
type Server struct {
	rpcServer *rpc.Server
	listener  net.Listener
	log       *logrus.Entry
	closed    int32
}

// NewServer registers recv (an object whose exported methods are the
// fixed set of RPC operations) and starts listening on addr. It does not
// block; call Serve to run the accept loop.
func NewServer(addr string, recv interface{}, log *logrus.Entry) (*Server, error) {
	rpcServer := rpc.NewServer()
	if err := rpcServer.Register(recv); err != nil {
		return nil, errors.Wrap(err, "rpcnet: register handler")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "rpcnet: listen on %s", addr)
	}

	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Server{rpcServer: rpcServer, listener: ln, log: log}, nil
}

// Addr returns the actual listening address (useful when addr was ":0").
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve runs the accept loop until the server is closed. Each connection
// is served on its own goroutine via net/rpc's ServeConn, which decodes
// and dispatches requests sequentially on that connection.
func (s *Server) Serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) != 0 {
				return
			}
			s.log.WithError(err).Warn("rpcnet: accept failed")
			continue
		}
		go s.rpcServer.ServeConn(conn)
	}
}

// Close stops the accept loop and releases the listening socket.
func (s *Server) Close() error {
	atomic.StoreInt32(&s.closed, 1)
	return s.listener.Close()
}

// Client dials peers lazily and applies a per-call timeout, so a single
// unresponsive peer cannot stall a caller past the configured bound.
type Client struct {
	Timeout time.Duration
}

// NewClient returns a Client with the given per-call timeout. A zero
// timeout disables the bound (not recommended: see SPEC_FULL §5).
func NewClient(timeout time.Duration) *Client {
	return &Client{Timeout: timeout}
}

// Call dials addr, invokes serviceMethod, and waits up to c.Timeout for a
// reply. A dial failure, a call error, or a timeout are all reported as
// plain Go errors — callers treat any of them as "no response".
func (c *Client) Call(addr, serviceMethod string, args, reply interface{}) error {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout(c.Timeout))
	if err != nil {
		return errors.Wrapf(err, "rpcnet: dial %s", addr)
	}
	defer conn.Close()

	client := rpc.NewClient(conn)
	defer client.Close()

	call := client.Go(serviceMethod, args, reply, make(chan *rpc.Call, 1))

	if c.Timeout <= 0 {
		res := <-call.Done
		return res.Error
	}

	select {
	case res := <-call.Done:
		return res.Error
	case <-time.After(c.Timeout):
		return errors.Errorf("rpcnet: %s to %s timed out after %s", serviceMethod, addr, c.Timeout)
	}
}

func dialTimeout(callTimeout time.Duration) time.Duration {
	if callTimeout <= 0 {
		return 5 * time.Second
	}
	return callTimeout
}
