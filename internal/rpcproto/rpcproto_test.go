package rpcproto

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spatialfs/spatialfs/internal/logging"
)

func TestServeAndClientRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	handler := func(protocol, method string, request []byte) ([]byte, error) {
		if method == "boom" {
			return nil, fmt.Errorf("intentional failure")
		}
		return append([]byte(protocol+"."+method+":"), request...), nil
	}
	log := logging.New("test", "rpcproto")

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		Serve(conn, Chain(handler, Recovery(log), Metrics()), log)
	}()

	client, err := Dial(ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	resp, err := client.Call("nahfs", "echo", []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, "nahfs.echo:hi", string(resp))

	_, err = client.Call("nahfs", "boom", nil)
	require.Error(t, err)

	// Connection survives a protocol-level error (spec §7).
	resp2, err := client.Call("nahfs", "echo", []byte("still alive"))
	require.NoError(t, err)
	require.Equal(t, "nahfs.echo:still alive", string(resp2))
}

func TestRecoveryMiddlewareCatchesPanic(t *testing.T) {
	log := logging.New("test", "rpcproto")
	h := Chain(func(protocol, method string, request []byte) ([]byte, error) {
		panic("boom")
	}, Recovery(log))

	_, err := h("p", "m", nil)
	require.Error(t, err)
}
