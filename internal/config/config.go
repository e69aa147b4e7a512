// Package config defines the process configuration shared by the coordinator
// and storage-node binaries, and the cobra flag wiring that populates it -
// the same shape as cmd/headers/commands/download.go's
// downloadCmd.Flags().StringVar(...) pattern, generalized to a struct.
package config

import (
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/spf13/cobra"
)

// ServerDefaults is returned verbatim by the coordinator's getServerDefaults RPC.
type ServerDefaults struct {
	TargetBlockSize   datasize.ByteSize
	ReplicationFactor int
	IOBufferSize      datasize.ByteSize
}

// Coordinator holds coordinator-process configuration.
type Coordinator struct {
	ListenAddr       string
	DataDir          string
	SnapshotPath     string
	Defaults         ServerDefaults
	HeartbeatRingLen int
	StorageRingLen   int
	StaleAfter       time.Duration
	LeaseTTL         time.Duration
}

// BindCoordinatorFlags wires a cobra command's flags into c, following the
// teacher's StringVar/IntVar-per-flag style.
func BindCoordinatorFlags(cmd *cobra.Command, c *Coordinator) {
	cmd.Flags().StringVar(&c.ListenAddr, "listen", ":9000", "coordinator RPC listen address")
	cmd.Flags().StringVar(&c.DataDir, "datadir", "./coordinator-data", "coordinator working directory")
	cmd.Flags().StringVar(&c.SnapshotPath, "snapshot", "", "namespace snapshot path (empty disables persistence)")
	var blockSize, ioBuf uint64
	cmd.Flags().Uint64Var(&blockSize, "block-size-mb", 128, "target block size in MiB")
	cmd.Flags().Uint64Var(&ioBuf, "io-buffer-kb", 64, "io buffer size in KiB")
	cmd.Flags().IntVar(&c.Defaults.ReplicationFactor, "replication", 3, "default replication factor")
	cmd.Flags().IntVar(&c.HeartbeatRingLen, "heartbeat-ring", 10, "storage-node heartbeat sample ring capacity")
	cmd.Flags().IntVar(&c.StorageRingLen, "storage-ring", 10, "storage sample ring capacity (not read: storage rings use the --heartbeat-ring capacity)")
	cmd.Flags().DurationVar(&c.StaleAfter, "stale-after", 90*time.Second, "storage node considered stale after this long without a heartbeat")
	cmd.Flags().DurationVar(&c.LeaseTTL, "lease-ttl", 60*time.Second, "write lease time-to-live")
	cobra.OnInitialize(func() {
		c.Defaults.TargetBlockSize = datasize.ByteSize(blockSize) * datasize.MB
		c.Defaults.IOBufferSize = datasize.ByteSize(ioBuf) * datasize.KB
	})
}

// StorageNode holds storage-node-process configuration.
type StorageNode struct {
	CoordinatorAddr  string
	TransferAddr     string
	DataDir          string
	IngestQueueLen   int
	IndexWorkers     int
	WriteWorkers     int
	TransferWorkers  int
	AcceptWorkers    int
	MemLimit         datasize.ByteSize
	BlockReportEvery time.Duration
	HeartbeatEvery   time.Duration
	IndexReportEvery time.Duration
	MetaCacheEntries int
}

// BindStorageNodeFlags wires a cobra command's flags into c.
func BindStorageNodeFlags(cmd *cobra.Command, c *StorageNode) {
	cmd.Flags().StringVar(&c.CoordinatorAddr, "coordinator", "localhost:9000", "coordinator RPC address")
	cmd.Flags().StringVar(&c.TransferAddr, "transfer-listen", ":9001", "transfer surface listen address")
	cmd.Flags().StringVar(&c.DataDir, "datadir", "./storagenode-data", "block storage directory")
	cmd.Flags().IntVar(&c.IngestQueueLen, "ingest-queue-len", 256, "bounded ingest queue capacity")
	cmd.Flags().IntVar(&c.IndexWorkers, "index-workers", 4, "INDEX-capable worker count (shared pool)")
	cmd.Flags().IntVar(&c.WriteWorkers, "write-workers", 4, "WRITE-capable worker count (shared pool)")
	cmd.Flags().IntVar(&c.TransferWorkers, "transfer-workers", 4, "TRANSFER-capable worker count (shared pool)")
	cmd.Flags().IntVar(&c.AcceptWorkers, "accept-workers", 8, "transfer-surface connection handler count")
	var memLimitMB uint64
	cmd.Flags().Uint64Var(&memLimitMB, "mem-limit-mb", 512, "soft memory limit for in-flight index buffers")
	cmd.Flags().DurationVar(&c.BlockReportEvery, "block-report-interval", time.Hour, "block report tick")
	cmd.Flags().DurationVar(&c.HeartbeatEvery, "heartbeat-interval", 3*time.Second, "heartbeat tick")
	cmd.Flags().DurationVar(&c.IndexReportEvery, "index-report-interval", 30*time.Second, "index report tick")
	cmd.Flags().IntVar(&c.MetaCacheEntries, "meta-cache-entries", 4096, "LRU capacity for decoded block-index metadata")
	cobra.OnInitialize(func() {
		c.MemLimit = datasize.ByteSize(memLimitMB) * datasize.MB
	})
}
