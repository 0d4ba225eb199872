package addr

import (
	"fmt"

	"github.com/mit-pdos/go-blocktree/common"
)

// Locator identifies a value stored out of line from the tree.
//
// Blkno is the first block of the value's stream. Sub addresses a value
// within that stream and is always 0 for now; streams hold one value each.
type Locator struct {
	Blkno common.Bnum
	Sub   uint16
}

// EmptyValue marks a zero-length value, for which no stream is written.
var EmptyValue = Locator{Blkno: common.Bnum(common.NULLBNUM)}

func MkLocator(blkno common.Bnum, sub uint16) Locator {
	return Locator{Blkno: blkno, Sub: sub}
}

func (l Locator) IsEmpty() bool {
	return l.Blkno == common.Bnum(common.NULLBNUM)
}

func (l Locator) String() string {
	if l.IsEmpty() {
		return "<empty>"
	}
	return fmt.Sprintf("%d.%d", l.Blkno, l.Sub)
}
