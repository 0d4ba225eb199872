package device

import (
	"github.com/mit-pdos/go-blocktree/common"
)

var _ Device = (*MemDevice)(nil)

// MemDevice keeps all blocks in one contiguous in-memory buffer.
type MemDevice struct {
	blockSize uint64
	buf       []byte
}

func NewMemDevice(blockSize uint64) *MemDevice {
	checkBlockSize(blockSize)
	return &MemDevice{blockSize: blockSize}
}

func (d *MemDevice) BlockSize() uint64 {
	return d.blockSize
}

func (d *MemDevice) NumBlocks() uint64 {
	if uint64(len(d.buf))%d.blockSize != 0 {
		panic("memory device holds a partial block")
	}
	return uint64(len(d.buf)) / d.blockSize
}

func (d *MemDevice) GetBlock(n common.Bnum) (Block, error) {
	checkBounds(d, "read", n)
	off := n * d.blockSize
	return d.buf[off : off+d.blockSize : off+d.blockSize], nil
}

func (d *MemDevice) Push(b Block) error {
	checkSized(d, b)
	d.buf = append(d.buf, b...)
	return nil
}

func (d *MemDevice) Pop() error {
	if len(d.buf) == 0 {
		panic("popping empty block device")
	}
	d.buf = d.buf[:uint64(len(d.buf))-d.blockSize]
	return nil
}

func (d *MemDevice) Replace(n common.Bnum, b Block) error {
	checkSized(d, b)
	checkBounds(d, "write", n)
	off := n * d.blockSize
	copy(d.buf[off:off+d.blockSize], b)
	return nil
}
