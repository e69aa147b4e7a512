// Command storagenode runs a single spatialfs storage node: local block
// storage, the staged INDEX/WRITE/TRANSFER ingest pipeline, the binary
// transfer surface, and the periodic heartbeat/block-report ticks to the
// coordinator (spec §5). Flag wiring follows the same cobra shape as
// cmd/coordinator.
package main

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/spatialfs/spatialfs/internal/config"
	"github.com/spatialfs/spatialfs/internal/logging"
	"github.com/spatialfs/spatialfs/internal/storagenode"
)

func main() {
	var cfg config.StorageNode

	root := &cobra.Command{
		Use:   "storagenode",
		Short: "spatialfs storage node: ingest pipeline, local block store, transfer surface",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cfg)
		},
	}
	config.BindStorageNodeFlags(root, &cfg)

	if err := root.Execute(); err != nil {
		logging.Error("storagenode exiting", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.StorageNode) error {
	log := logging.New("component", "storagenode-main")

	n, err := storagenode.New(cfg)
	if err != nil {
		return err
	}
	log.Info("storage node registered", "id", n.ID(), "coordinator", cfg.CoordinatorAddr)

	ln, err := net.Listen("tcp", cfg.TransferAddr)
	if err != nil {
		return err
	}
	log.Info("transfer surface listening", "addr", cfg.TransferAddr, "datadir", cfg.DataDir)

	stop := make(chan struct{})
	go n.ServeTransfer(ln)
	n.RunTickers(stop)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	close(stop)
	ln.Close()
	n.Shutdown()
	return nil
}
