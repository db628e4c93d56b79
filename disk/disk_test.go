package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

func mkBlock(b byte) Block {
	blk := make(Block, BlockSize)
	for i := range blk {
		blk[i] = b
	}
	return blk
}

func checkReadWrite(t *testing.T, d Disk) {
	assert := assert.New(t)
	n, err := d.Size()
	require.NoError(t, err)
	require.True(t, n >= 4)

	assert.NoError(d.Write(1, mkBlock(0xaa)))
	assert.NoError(d.Write(n-1, mkBlock(0x55)))

	blk, err := d.Read(1)
	assert.NoError(err)
	assert.Equal(mkBlock(0xaa), blk)

	buf := make(Block, BlockSize)
	assert.NoError(d.ReadTo(n-1, buf))
	assert.Equal(mkBlock(0x55), buf)

	blk, _ = d.Read(0)
	assert.Equal(mkBlock(0), blk, "untouched page should read as zero")
	assert.NoError(d.Barrier())

	assert.Panics(func() { d.Read(n) }, "read past the end")
	assert.Panics(func() { d.Write(n, mkBlock(1)) }, "write past the end")
	assert.Panics(func() { d.Write(0, make(Block, 10)) }, "short block")
}

func TestMemDisk(t *testing.T) {
	d := NewMemDisk(8)
	checkReadWrite(t, d)
	info, err := Query(d)
	require.NoError(t, err)
	assert.Equal(t, Info{Pages: 8, SizeBytes: 8 * BlockSize, IOSize: BlockSize}, info)
}

func TestFileDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	d, err := NewFileDisk(path, 8)
	require.NoError(t, err)
	checkReadWrite(t, d)
	require.NoError(t, d.Close())

	// reopen and let the file size decide the geometry
	d, err = NewFileDisk(path, 0)
	require.NoError(t, err)
	defer d.Close()
	n, _ := d.Size()
	assert.Equal(t, uint64(8), n)
	blk, _ := d.Read(1)
	assert.Equal(t, mkBlock(0xaa), blk, "data should survive reopen")

	info, err := Query(d)
	require.NoError(t, err)
	assert.NotZero(t, info.IOSize)
}

func TestFileDiskUnknownSize(t *testing.T) {
	_, err := NewFileDisk(filepath.Join(t.TempDir(), "empty"), 0)
	assert.Error(t, err)
}

func TestStreamDisk(t *testing.T) {
	image := make([]byte, 6*BlockSize+100)
	d, err := NewStreamDisk(bytesextra.NewReadWriteSeeker(image))
	require.NoError(t, err)
	n, _ := d.Size()
	assert.Equal(t, uint64(6), n, "trailing partial page is ignored")
	checkReadWrite(t, d)
	assert.NoError(t, d.Close())
}

func TestStreamDiskTooSmall(t *testing.T) {
	_, err := NewStreamDisk(bytesextra.NewReadWriteSeeker(make([]byte, 100)))
	assert.Error(t, err)
}
