// Package seq stores byte streams as chains of device blocks.
//
// Each block of a stream is laid out as
//
//	[ len (2) | data (len) | zero padding | next (4) ]
//
// where len counts the stream bytes held in the block and next is the block
// number of the following block, or common.NULLBNUM in the last block. All
// integers are little-endian.
//
// Streams are write-once: a Writer buffers the whole stream in memory and
// Finish appends its blocks to the device in one go. A Reader follows the
// chain forward from the first block and cannot seek.
package seq

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/tchajed/goose/machine"

	"github.com/mit-pdos/go-blocktree/common"
	"github.com/mit-pdos/go-blocktree/device"
	"github.com/mit-pdos/go-blocktree/util"
)

var (
	// ErrAddressRange means a stream would use a block number that does not
	// fit in a 32-bit link.
	ErrAddressRange = errors.New("seq: block number exceeds 32-bit range")
	// ErrCorrupt means a block's header or link is inconsistent with the
	// device.
	ErrCorrupt = errors.New("seq: corrupt block")
)

// Header is the framing of one stream block.
type Header struct {
	Len  uint64
	Next uint32
}

func (h Header) Last() bool {
	return h.Next == common.NULLBNUM
}

func encodeBlock(bs uint64, data []byte, next uint32) device.Block {
	blk := make(device.Block, bs)
	binary.LittleEndian.PutUint16(blk[:common.LENHDRSZ], uint16(len(data)))
	copy(blk[common.LENHDRSZ:], data)
	machine.UInt32Put(blk[bs-common.LINKSZ:], next)
	return blk
}

// DecodeHeader parses the header and link of blk, a block of dev.
func DecodeHeader(dev device.Device, blk device.Block) (Header, error) {
	bs := dev.BlockSize()
	h := Header{
		Len:  uint64(binary.LittleEndian.Uint16(blk[:common.LENHDRSZ])),
		Next: machine.UInt32Get(blk[bs-common.LINKSZ:]),
	}
	if h.Len > common.BlockCapacity(bs) {
		return h, fmt.Errorf("data length %d: %w", h.Len, ErrCorrupt)
	}
	if !h.Last() && uint64(h.Next) >= dev.NumBlocks() {
		return h, fmt.Errorf("link to block %d of %d: %w",
			h.Next, dev.NumBlocks(), ErrCorrupt)
	}
	return h, nil
}

// ReadHeader reads the framing of block n.
func ReadHeader(dev device.Device, n common.Bnum) (Header, error) {
	blk, err := dev.GetBlock(n)
	if err != nil {
		return Header{}, err
	}
	return DecodeHeader(dev, blk)
}

// Blocks lists the block numbers of the stream starting at first, in chain
// order.
func Blocks(dev device.Device, first common.Bnum) ([]common.Bnum, error) {
	var bns []common.Bnum
	bn := first
	for {
		if uint64(len(bns)) > dev.NumBlocks() {
			return nil, fmt.Errorf("cycle through block %d: %w", bn, ErrCorrupt)
		}
		bns = append(bns, bn)
		h, err := ReadHeader(dev, bn)
		if err != nil {
			return nil, err
		}
		if h.Last() {
			return bns, nil
		}
		bn = common.Bnum(h.Next)
	}
}

// NumBlocksFor is how many blocks of size bs a stream of n bytes occupies.
func NumBlocksFor(bs uint64, n uint64) uint64 {
	return util.RoundUp(n, common.BlockCapacity(bs))
}

var _ io.Writer = (*Writer)(nil)

// Writer builds a stream in memory.
//
// Finish must be called exactly once, after the last Write.
type Writer struct {
	dev      device.Device
	buf      []byte
	finished bool
}

func NewWriter(dev device.Device) *Writer {
	return &Writer{dev: dev}
}

// Write buffers p; it never fails.
func (w *Writer) Write(p []byte) (int, error) {
	if w.finished {
		panic("seq: write after finish")
	}
	w.buf = append(w.buf, p...)
	return len(p), nil
}

// Len is the number of bytes buffered so far.
func (w *Writer) Len() uint64 {
	return uint64(len(w.buf))
}

// Finish appends the buffered stream to the device, returning its first block
// and the number of blocks used. The stream must be non-empty.
//
// If the stream's block numbers would not fit in a link, Finish returns
// ErrAddressRange without writing anything.
func (w *Writer) Finish() (common.Bnum, uint64, error) {
	if w.finished {
		panic("seq: finish called twice")
	}
	if len(w.buf) == 0 {
		panic("seq: finish of an empty stream")
	}
	w.finished = true

	bs := w.dev.BlockSize()
	chunk := common.BlockCapacity(bs)
	count := NumBlocksFor(bs, uint64(len(w.buf)))
	first := w.dev.NumBlocks()
	// the last block number must stay below the NULLBNUM sentinel
	if util.SumOverflows(first, count) ||
		first+count > common.Bnum(common.NULLBNUM) {
		return 0, 0, fmt.Errorf("%d blocks at %d: %w", count, first, ErrAddressRange)
	}

	for i := uint64(0); i < count; i++ {
		start := i * chunk
		end := util.Min(start+chunk, uint64(len(w.buf)))
		next := common.NULLBNUM
		if i+1 < count {
			next = uint32(first + i + 1)
		}
		err := w.dev.Push(encodeBlock(bs, w.buf[start:end], next))
		if err != nil {
			return 0, 0, err
		}
	}
	util.DPrintf(5, "seq.Finish: %d bytes in blocks [%d, %d)\n",
		len(w.buf), first, first+count)
	w.buf = nil
	return first, count, nil
}

// Write stores p as a new stream, returning its first block.
func Write(dev device.Device, p []byte) (common.Bnum, uint64, error) {
	w := NewWriter(dev)
	w.Write(p)
	return w.Finish()
}

var _ io.Reader = (*Reader)(nil)

// Reader reads a stream front to back.
type Reader struct {
	dev device.Device
	bn  common.Bnum
	off  uint64 // bytes of block bn already read
	hops uint64 // links followed so far
	eof  bool
}

func NewReader(dev device.Device, first common.Bnum) *Reader {
	return &Reader{dev: dev, bn: first}
}

// Read implements io.Reader, returning io.EOF once the last block is
// consumed.
func (r *Reader) Read(p []byte) (int, error) {
	for {
		if r.eof {
			return 0, io.EOF
		}
		if len(p) == 0 {
			return 0, nil
		}
		blk, err := r.dev.GetBlock(r.bn)
		if err != nil {
			return 0, err
		}
		h, err := DecodeHeader(r.dev, blk)
		if err != nil {
			return 0, err
		}
		if r.off > h.Len {
			return 0, fmt.Errorf("block %d shrank below offset %d: %w",
				r.bn, r.off, ErrCorrupt)
		}
		left := h.Len - r.off
		n := util.Min(left, uint64(len(p)))
		src := common.LENHDRSZ + r.off
		copy(p[:n], blk[src:src+n])
		r.off += n
		if n == left {
			if h.Last() {
				r.eof = true
			} else {
				// a chain longer than the device must loop
				r.hops++
				if r.hops > r.dev.NumBlocks() {
					return int(n), fmt.Errorf("cycle through block %d: %w",
						h.Next, ErrCorrupt)
				}
				util.DPrintf(10, "seq.Read: block %d -> %d\n", r.bn, h.Next)
				r.bn = common.Bnum(h.Next)
				r.off = 0
			}
		}
		if n > 0 {
			return int(n), nil
		}
	}
}

// ReadAll reads the whole stream starting at first.
func ReadAll(dev device.Device, first common.Bnum) ([]byte, error) {
	var out []byte
	buf := make([]byte, common.BlockCapacity(dev.BlockSize()))
	r := NewReader(dev, first)
	for {
		n, err := r.Read(buf)
		out = append(out, buf[:n]...)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
