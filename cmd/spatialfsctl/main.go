// Command spatialfsctl is the spatialfs client tool (spec §2 "Client
// tool. Issues RPCs to inspect and persist state; not part of the core.").
// Subcommands follow cobra's AddCommand convention the way
// cmd/headers/commands wires sibling commands onto one root.
package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/ugorji/go/codec"

	"github.com/spatialfs/spatialfs/internal/block"
	"github.com/spatialfs/spatialfs/internal/coordinatorrpc"
	"github.com/spatialfs/spatialfs/internal/query"
	"github.com/spatialfs/spatialfs/internal/recordindex"
	"github.com/spatialfs/spatialfs/internal/transfer"
)

var coordinatorAddr string

// reqHandle and encodeReq mirror internal/storagenode's own CBOR request
// encoding: the op-request bodies ahead of a transfer-surface payload
// stream are package-private there, so the client re-declares the same
// wire shapes rather than reaching into an internal package.
var reqHandle codec.CborHandle

func encodeReq(v interface{}) []byte {
	var buf bytes.Buffer
	codec.NewEncoder(&buf, &reqHandle).MustEncode(v)
	return buf.Bytes()
}

// writeRequestBody mirrors storagenode's writeRequest wire shape for ops
// 80/82 (write-block/write-replica).
type writeRequestBody struct {
	ID              uint64
	GenerationStamp uint64
	Length          uint64
	Policy          string
	Replicas        []string
	Client          string
	Index           recordindex.BlockIndex // set only on write-replica; zero from this client
}

// readRequestBody mirrors storagenode's readRequest wire shape for op 81
// (read-block).
type readRequestBody struct {
	ID     uint64
	Offset uint64
	Length uint64
	Client string
}

func main() {
	root := &cobra.Command{Use: "spatialfsctl", Short: "spatialfs client tool"}
	root.PersistentFlags().StringVar(&coordinatorAddr, "coordinator", "localhost:9000", "coordinator RPC address")

	root.AddCommand(
		mkdirsCmd(),
		lsCmd(),
		statCmd(),
		setPolicyCmd(),
		renameCmd(),
		putCmd(),
		catCmd(),
		serverDefaultsCmd(),
		indexViewCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "spatialfsctl:", err)
		os.Exit(1)
	}
}

func dial() (*coordinatorrpc.Client, error) {
	return coordinatorrpc.Dial(coordinatorAddr)
}

func mkdirsCmd() *cobra.Command {
	var createParent bool
	cmd := &cobra.Command{
		Use:   "mkdirs <path>",
		Short: "create a directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Mkdirs(args[0], createParent)
		},
	}
	cmd.Flags().BoolVar(&createParent, "parents", true, "create missing parent directories")
	return cmd
}

func lsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <path>",
		Short: "list a directory's children",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			entries, ok, err := c.GetListing(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no such directory: %s", args[0])
			}
			for _, e := range entries {
				kind := "f"
				if e.IsDirectory {
					kind = "d"
				}
				fmt.Printf("%s\t%s\t%d\n", kind, e.Name, e.ID)
			}
			return nil
		},
	}
}

func statCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stat <path>",
		Short: "show a file or directory's inode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			inode, ok, err := c.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no such path: %s", args[0])
			}
			fmt.Printf("id=%d name=%q dir=%v policy=%q replication=%d blockSize=%d blocks=%d complete=%v\n",
				inode.ID, inode.Name, inode.IsDirectory, inode.StoragePolicy, inode.Replication, inode.BlockSize, len(inode.Blocks), inode.Complete)
			return nil
		},
	}
}

func setPolicyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-policy <path> <policy-string>",
		Short: `set a storage policy, e.g. "CsvPoint(timestamp_index:2, latitude_index:0, longitude_index:1)"`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.SetStoragePolicy(args[0], args[1])
		},
	}
}

func renameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <src> <dst>",
		Short: "move/rename a path",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Rename(args[0], args[1])
		},
	}
}

func serverDefaultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "server-defaults",
		Short: "print the coordinator's advertised defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			d, err := c.GetServerDefaults()
			if err != nil {
				return err
			}
			fmt.Printf("targetBlockSizeBytes=%d replication=%d ioBufferSizeBytes=%d\n",
				d.TargetBlockSizeBytes, d.ReplicationFactor, d.IOBufferSizeBytes)
			return nil
		},
	}
}

func indexViewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "index-view <path>",
		Short: "dump the spatial/temporal index entries for a file's blocks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()
			inode, ok, err := c.GetFileInfo(args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no such file: %s", args[0])
			}
			ids := make([]block.ID, len(inode.Blocks))
			for i, b := range inode.Blocks {
				ids[i] = block.ID(b)
			}
			entries, err := c.IndexView(ids)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("block=%016x minTS=%d maxTS=%d hasTime=%v spatialEntries=%d\n",
					e.BlockID, e.MinTS, e.MaxTS, e.HasTime, len(e.Spatial))
				for _, s := range e.Spatial {
					fmt.Printf("  geohash=%s length=%d\n", s.Geohash, s.Length)
				}
			}
			return nil
		},
	}
}

// putCmd uploads a local file as a single block per spec's simplified
// client write path: create, addBlock, stream the payload to the first
// replica's transfer surface, complete.
func putCmd() *cobra.Command {
	var replication int
	var policyStr string
	cmd := &cobra.Command{
		Use:   "put <local-file> <remote-path>",
		Short: "upload a local file as one block",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			localPath, remotePath := args[0], args[1]
			payload, err := os.ReadFile(localPath)
			if err != nil {
				return err
			}

			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			if _, err := c.Create(remotePath, uint32(replication), uint64(len(payload)), ""); err != nil {
				return err
			}
			if policyStr != "" {
				if err := c.SetStoragePolicy(remotePath, policyStr); err != nil {
					return err
				}
			}
			indexed := policyStr != ""

			blockID, replicas, err := c.AddBlock(remotePath, "spatialfsctl", indexed)
			if err != nil {
				return err
			}
			if len(replicas) == 0 {
				return fmt.Errorf("no storage nodes available to receive block")
			}

			if err := writeBlock(replicas[0], blockID, payload, policyStr, replicas); err != nil {
				return err
			}
			return c.Complete(remotePath)
		},
	}
	cmd.Flags().IntVar(&replication, "replication", 1, "replication factor")
	cmd.Flags().StringVar(&policyStr, "policy", "", "storage policy string; empty means non-indexed")
	return cmd
}

func writeBlock(addr string, id block.ID, payload []byte, policyStr string, replicas []string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing storage node %s: %w", addr, err)
	}
	defer conn.Close()

	req := writeRequestBody{ID: uint64(id), Length: uint64(len(payload)), Policy: policyStr, Replicas: replicas}
	if err := transfer.WriteFrame(conn, transfer.OpWriteBlock, encodeReq(req)); err != nil {
		return err
	}
	w := bufio.NewWriter(conn)
	if err := transfer.WritePayload(w, payload); err != nil {
		return err
	}
	return w.Flush()
}

// catCmd reads a path, optionally with a "+query" spatiotemporal filter,
// and streams the matching bytes from each located sub-block to stdout.
func catCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cat <remote-path[+query]>",
		Short: "read a file, optionally filtered by a +query string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, queryStr, err := query.SplitPath(args[0])
			if err != nil {
				return err
			}
			c, err := dial()
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.GetBlockLocations(path, queryStr)
			if err != nil {
				return err
			}
			for _, lb := range resp.Blocks {
				if len(lb.Replicas) == 0 {
					return fmt.Errorf("block %016x has no live replicas", lb.BlockID)
				}
				data, err := readBlock(lb.Replicas[0], block.ID(lb.BlockID), lb.Length)
				if err != nil {
					return err
				}
				if _, err := os.Stdout.Write(data); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func readBlock(addr string, id block.ID, length uint64) ([]byte, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dialing storage node %s: %w", addr, err)
	}
	defer conn.Close()

	req := readRequestBody{ID: uint64(id), Offset: 0, Length: length}
	if err := transfer.WriteFrame(conn, transfer.OpReadBlock, encodeReq(req)); err != nil {
		return nil, err
	}
	r := bufio.NewReader(conn)
	data, err := transfer.ReadPayload(r)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}
