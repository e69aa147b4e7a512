// Command coordinator runs the spatialfs coordinator process: the
// namespace, the block/spatial/temporal stores, and the RPC surface of
// spec §6's client-facing, storage-facing, and administrative methods.
// Wired with spf13/cobra the way the teacher's cmd/rpcdaemon/main.go wires
// its root command, generalized to this process's own config and serve
// loop instead of an RPC API list.
package main

import (
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/spatialfs/spatialfs/internal/config"
	"github.com/spatialfs/spatialfs/internal/coordinator"
	"github.com/spatialfs/spatialfs/internal/coordinatorrpc"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/rpcproto"
)

func main() {
	var cfg config.Coordinator

	root := &cobra.Command{
		Use:   "coordinator",
		Short: "spatialfs coordinator: namespace, block/spatial/temporal indices, and RPC surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	config.BindCoordinatorFlags(root, &cfg)

	if err := root.Execute(); err != nil {
		logging.Error("coordinator exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Coordinator) error {
	log := logging.New("component", "coordinator-main")

	c, err := coordinator.New(cfg)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return err
	}
	log.Info("coordinator listening", "addr", cfg.ListenAddr, "datadir", cfg.DataDir)

	handler := rpcproto.Chain(coordinatorrpc.Server(c), rpcproto.Recovery(log), rpcproto.Metrics())
	for {
		conn, err := ln.Accept()
		if err != nil {
			log.Warn("accept failed, stopping", "error", err)
			return err
		}
		go rpcproto.Serve(conn, handler, log)
	}
}
