package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-ftlfs/common"
)

func TestInodeAddr(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(MkAddr(3, 0), InodeAddr(0))
	assert.Equal(MkAddr(3, 31), InodeAddr(31))
	assert.Equal(MkAddr(4, 0), InodeAddr(32))
	last := InodeAddr(common.Inum(common.MAXINODE - 1))
	assert.Equal(common.DATASTART-1, last.Page, "inode table ends before the data region")
	assert.Panics(func() { InodeAddr(common.Inum(common.MAXINODE)) })
}

func TestDataAddr(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(common.PageID(256), DataPage(0))
	assert.Equal(common.PageID(260), DataPage(4))

	direct := []int32{5, -1, 7}
	a, ok := DEntryAddr(direct, 3)
	assert.True(ok)
	assert.Equal(MkAddr(261, 3), a)
	_, ok = DEntryAddr(direct, 16)
	assert.False(ok)
	a, ok = DEntryAddr(direct, 33)
	assert.True(ok)
	assert.Equal(MkAddr(263, 1), a)
	_, ok = DEntryAddr(direct, 48)
	assert.False(ok)
	assert.Equal("263.1", a.String())
}
