// Package rpcproto is the length-delimited call surface of spec §6
// ("RPC surface"): each call carries (protocol_name, method_name,
// request_bytes) -> response_bytes over a connection-oriented stream,
// frames encoded self-describingly with ugorji/go/codec. The dispatch and
// middleware-chain shape is grounded on the teacher's grpc middleware
// wiring (turbo's grpc_middleware/grpc_recovery usage wraps every handler
// with a panic-recovery + logging layer before the real method runs); here
// that's a plain func-wrapping-func chain instead of grpc interceptors.
package rpcproto

import (
	"bufio"
	"fmt"
	"io"
	"net"

	"github.com/ugorji/go/codec"

	"github.com/spatialfs/spatialfs/internal/errs"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/metrics"
)

var handle codec.CborHandle

// Call is one length-delimited request frame.
type Call struct {
	Protocol string
	Method   string
	Request  []byte
}

// Reply is the response frame: either Response bytes, or a non-empty Err
// describing a protocol-level failure (spec §7: "Protocol-level decode
// failure: surfaced to the caller via an error response; the connection
// is kept"). Status carries the error's kind (errs.ToRPCStatus) so callers
// can branch on it without parsing Err.
type Reply struct {
	Response []byte
	Err      string
	Status   string
}

// Handler answers one (protocol, method, request) call.
type Handler func(protocol, method string, request []byte) ([]byte, error)

// Middleware wraps a Handler with cross-cutting behavior.
type Middleware func(Handler) Handler

// Chain composes middlewares around base, outermost first.
func Chain(base Handler, mws ...Middleware) Handler {
	h := base
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Recovery turns a panicking handler into an error reply instead of
// killing the connection goroutine (spec §7: "No error aborts a worker
// loop or server thread").
func Recovery(log logging.Logger) Middleware {
	return func(next Handler) Handler {
		return func(protocol, method string, request []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("rpc handler panicked", "protocol", protocol, "method", method, "panic", r)
					err = fmt.Errorf("rpcproto: internal error handling %s.%s", protocol, method)
				}
			}()
			return next(protocol, method, request)
		}
	}
}

// Metrics records a call's outcome in the calls_total counter.
func Metrics() Middleware {
	return func(next Handler) Handler {
		return func(protocol, method string, request []byte) ([]byte, error) {
			resp, err := next(protocol, method, request)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			metrics.RPCCalls.WithLabelValues(protocol, method, outcome).Inc()
			return resp, err
		}
	}
}

// Serve runs handler over every length-delimited Call read from conn,
// writing a Reply for each, until the connection closes or ctx-like
// cancellation is signaled externally by closing conn.
func Serve(conn net.Conn, handler Handler, log logging.Logger) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	dec := codec.NewDecoder(r, &handle)
	enc := codec.NewEncoder(w, &handle)

	for {
		var call Call
		if err := dec.Decode(&call); err != nil {
			if err != io.EOF {
				log.Warn("rpc decode failed, closing connection", "error", err)
			}
			return
		}

		resp, err := handler(call.Protocol, call.Method, call.Request)
		reply := Reply{Response: resp}
		if err != nil {
			reply.Err = err.Error()
			reply.Status = errs.ToRPCStatus(err)
		}
		if err := enc.Encode(&reply); err != nil {
			log.Warn("rpc encode failed, closing connection", "error", err)
			return
		}
		if err := w.Flush(); err != nil {
			log.Warn("rpc flush failed, closing connection", "error", err)
			return
		}
	}
}

// Client issues length-delimited calls against a single connection.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
	dec  *codec.Decoder
	enc  *codec.Encoder
}

// Dial opens a Client connection to addr.
func Dial(addr string) (*Client, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rpcproto: dialing %s: %w", addr, err)
	}
	r := bufio.NewReader(conn)
	w := bufio.NewWriter(conn)
	return &Client{
		conn: conn, r: r, w: w,
		dec: codec.NewDecoder(r, &handle),
		enc: codec.NewEncoder(w, &handle),
	}, nil
}

// Call sends one (protocol, method, request) frame and waits for its reply.
func (c *Client) Call(protocol, method string, request []byte) ([]byte, error) {
	if err := c.enc.Encode(&Call{Protocol: protocol, Method: method, Request: request}); err != nil {
		return nil, fmt.Errorf("rpcproto: encoding call: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return nil, fmt.Errorf("rpcproto: flushing call: %w", err)
	}
	var reply Reply
	if err := c.dec.Decode(&reply); err != nil {
		return nil, fmt.Errorf("rpcproto: decoding reply: %w", err)
	}
	if reply.Err != "" {
		if reply.Status != "" {
			return nil, fmt.Errorf("rpcproto: remote error (%s): %s", reply.Status, reply.Err)
		}
		return nil, fmt.Errorf("rpcproto: remote error: %s", reply.Err)
	}
	return reply.Response, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
