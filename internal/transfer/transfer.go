// Package transfer implements the storage-node binary transfer surface of
// spec §6: a per-connection loop reading {u16 protocol_version=28, u8 op,
// LEB128 length, op-request bytes}, with ops 80 (write-block), 81
// (read-block), 82 (write-replica). Payloads ride a chunked byte stream
// (length-prefixed chunks of up to 512 bytes, written back to back with no
// grouping into packets); client name "direct-client" gets
// a degenerate raw-byte mode with a single-byte ack instead. The varint
// framing uses google.golang.org/protobuf/encoding/protowire, the same
// LEB128 helpers the teacher's p2p wire types lean on elsewhere in its
// protobuf-based RLPx messages.
package transfer

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// ProtocolVersion is the fixed u16 that opens every frame.
const ProtocolVersion = 28

// Op codes (spec §6).
const (
	OpWriteBlock   byte = 80
	OpReadBlock    byte = 81
	OpWriteReplica byte = 82
)

// ChunkSize is the payload chunk size on the wire: 512 bytes per chunk.
// PacketChunks and PacketSize record the 126-chunks-per-packet figure
// (spec §6); WritePayload does not group chunks into packets.
const (
	ChunkSize    = 512
	PacketChunks = 126
	PacketSize   = ChunkSize * PacketChunks
)

// DirectClientName is the degenerate-mode sentinel client name (spec §6:
// "a degenerate mode for client name 'direct-client' uses raw bytes with a
// single-byte ack").
const DirectClientName = "direct-client"

// Frame is one op-request header plus its request body (already read off
// the wire; for write ops the block payload follows the frame as a separate
// chunked stream, handled by ReadPayload/WritePayload below).
type Frame struct {
	Op      byte
	Request []byte
}

// WriteFrame writes a frame header: version, op, LEB128 length, request.
func WriteFrame(w io.Writer, op byte, request []byte) error {
	var hdr [2]byte
	binary.BigEndian.PutUint16(hdr[:], ProtocolVersion)
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("transfer: writing version: %w", err)
	}
	if _, err := w.Write([]byte{op}); err != nil {
		return fmt.Errorf("transfer: writing op: %w", err)
	}
	lenBuf := protowire.AppendVarint(nil, uint64(len(request)))
	if _, err := w.Write(lenBuf); err != nil {
		return fmt.Errorf("transfer: writing length: %w", err)
	}
	if _, err := w.Write(request); err != nil {
		return fmt.Errorf("transfer: writing request: %w", err)
	}
	return nil
}

// ReadFrame reads one frame header plus request body from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Frame{}, fmt.Errorf("transfer: reading version: %w", err)
	}
	version := binary.BigEndian.Uint16(hdr[:])
	if version != ProtocolVersion {
		return Frame{}, fmt.Errorf("transfer: unsupported protocol version %d", version)
	}
	op, err := r.ReadByte()
	if err != nil {
		return Frame{}, fmt.Errorf("transfer: reading op: %w", err)
	}
	length, err := readVarint(r)
	if err != nil {
		return Frame{}, fmt.Errorf("transfer: reading length: %w", err)
	}
	req := make([]byte, length)
	if _, err := io.ReadFull(r, req); err != nil {
		return Frame{}, fmt.Errorf("transfer: reading request body: %w", err)
	}
	return Frame{Op: op, Request: req}, nil
}

// readVarint decodes a LEB128 varint byte-by-byte from r, since protowire's
// decoder operates on an in-memory buffer rather than an io.Reader.
func readVarint(r *bufio.Reader) (uint64, error) {
	var buf []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		buf = append(buf, b)
		if b&0x80 == 0 {
			break
		}
	}
	v, n := protowire.ConsumeVarint(buf)
	if n < 0 {
		return 0, fmt.Errorf("transfer: malformed varint")
	}
	return v, nil
}

// WritePayload streams payload in ChunkSize-byte chunks, each chunk
// prefixed by its own length so a short final chunk is distinguishable from
// a full one. Chunks are written back to back; they are not grouped into
// PacketChunks-sized packets.
func WritePayload(w io.Writer, payload []byte) error {
	for off := 0; off < len(payload); off += ChunkSize {
		end := off + ChunkSize
		if end > len(payload) {
			end = len(payload)
		}
		chunk := payload[off:end]
		lenBuf := protowire.AppendVarint(nil, uint64(len(chunk)))
		if _, err := w.Write(lenBuf); err != nil {
			return fmt.Errorf("transfer: writing chunk length: %w", err)
		}
		if _, err := w.Write(chunk); err != nil {
			return fmt.Errorf("transfer: writing chunk: %w", err)
		}
	}
	// Zero-length chunk marks end of stream.
	_, err := w.Write(protowire.AppendVarint(nil, 0))
	return err
}

// ReadPayload reads a WritePayload stream back into a single buffer.
func ReadPayload(r *bufio.Reader) ([]byte, error) {
	var out []byte
	for {
		n, err := readVarint(r)
		if err != nil {
			return nil, fmt.Errorf("transfer: reading chunk length: %w", err)
		}
		if n == 0 {
			return out, nil
		}
		chunk := make([]byte, n)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return nil, fmt.Errorf("transfer: reading chunk: %w", err)
		}
		out = append(out, chunk...)
	}
}

// WriteDirect streams payload raw (no chunk framing) for the
// "direct-client" degenerate mode, then reads back a single ack byte.
func WriteDirect(rw io.ReadWriter, payload []byte) error {
	if _, err := rw.Write(payload); err != nil {
		return fmt.Errorf("transfer: writing direct payload: %w", err)
	}
	ack := make([]byte, 1)
	if _, err := io.ReadFull(rw, ack); err != nil {
		return fmt.Errorf("transfer: reading ack: %w", err)
	}
	if ack[0] != 1 {
		return fmt.Errorf("transfer: peer nacked direct write")
	}
	return nil
}

// ReadDirect reads exactly len(buf) raw bytes for the degenerate mode, then
// writes a single-byte ack.
func ReadDirect(rw io.ReadWriter, buf []byte) error {
	if _, err := io.ReadFull(rw, buf); err != nil {
		return fmt.Errorf("transfer: reading direct payload: %w", err)
	}
	_, err := rw.Write([]byte{1})
	return err
}
