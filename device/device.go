// Package device defines the block device the engine stores everything on.
//
// A device is a linear sequence of fixed-size blocks numbered from 0. Blocks
// are added and removed only at the end (Push, Pop); the single in-place
// operation is Replace. Every operation moves whole blocks.
package device

import (
	"errors"
	"fmt"

	"github.com/mit-pdos/go-blocktree/common"
)

// Block is a BlockSize()-byte buffer.
//
// A Block returned by GetBlock may alias device storage; callers must not
// modify it or keep it past the next call on the device.
type Block = []byte

var (
	// ErrFull is returned by Push when the device has no room for another
	// block.
	ErrFull = errors.New("device: no free blocks")
	// ErrBadHeader means persistent device metadata could not be
	// recovered.
	ErrBadHeader = errors.New("device: bad header")
)

// Device provides access to an append-oriented block device
type Device interface {
	// BlockSize is the (constant, power-of-two) size of every block
	BlockSize() uint64

	// NumBlocks reports how many blocks the device holds
	NumBlocks() uint64

	// GetBlock reads block n.
	//
	// Expects n < NumBlocks().
	GetBlock(n common.Bnum) (Block, error)

	// Push appends b as block NumBlocks().
	//
	// Expects len(b) == BlockSize(). Once Push returns nil the block is part
	// of the device.
	Push(b Block) error

	// Pop removes the last block.
	//
	// Expects NumBlocks() > 0.
	Pop() error

	// Replace overwrites block n.
	//
	// Expects n < NumBlocks() and len(b) == BlockSize().
	Replace(n common.Bnum, b Block) error
}

func checkBlockSize(bs uint64) {
	if !common.IsPowerOfTwo(bs) || bs < common.MinBlockSize {
		panic(fmt.Errorf("block size %d is not a power of two >= %d",
			bs, common.MinBlockSize))
	}
}

func checkSized(d Device, b Block) {
	if uint64(len(b)) != d.BlockSize() {
		panic(fmt.Errorf("v is not block-sized (%d bytes)", len(b)))
	}
}

func checkBounds(d Device, op string, n common.Bnum) {
	if n >= d.NumBlocks() {
		panic(fmt.Errorf("out-of-bounds %s at %v", op, n))
	}
}
