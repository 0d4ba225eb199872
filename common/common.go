package common

// Bnum is a block number on a device.
type Bnum = uint64

const (
	// NULLBNUM terminates a block chain; it is never a valid block number.
	NULLBNUM uint32 = 0xFFFFFFFF

	LENHDRSZ  uint64 = 2 // data length at the start of each block
	LINKSZ    uint64 = 4 // next block number at the end of each block
	BLKOVERHD        = LENHDRSZ + LINKSZ

	// MAXBLKDATA bounds the payload of one block by the width of its
	// length header.
	MAXBLKDATA uint64 = 0xFFFF

	ENTLENSZ    uint64 = 2
	MAXENTRYLEN uint64 = 0xFFFF
)

// MinBlockSize is the smallest power-of-two block size that holds a byte of
// stream data.
const MinBlockSize uint64 = 8

func IsPowerOfTwo(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

// BlockCapacity is the number of stream bytes one block of size bs holds.
func BlockCapacity(bs uint64) uint64 {
	c := bs - BLKOVERHD
	if c > MAXBLKDATA {
		return MAXBLKDATA
	}
	return c
}
