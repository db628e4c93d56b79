package errno

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrnoIs(t *testing.T) {
	assert := assert.New(t)
	err := Newf(ENOENT, "no entry %q", "a")
	assert.True(errors.Is(err, ENOENT))
	assert.False(errors.Is(err, EEXIST))
	assert.Contains(err.Error(), `no entry "a"`)
	assert.Equal(ENOENT, Code(err))
}

func TestWrapKeepsCause(t *testing.T) {
	assert := assert.New(t)
	err := Wrap(EIO, io.ErrUnexpectedEOF)
	assert.True(errors.Is(err, EIO))
	assert.True(errors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(EIO, Code(err))
}

func TestCode(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(Errno(0), Code(nil))
	assert.Equal(EEXIST, Code(fmt.Errorf("mkdir: %w", New(EEXIST))))
	assert.Equal(ENOSYS, Code(ENOSYS))
	assert.Equal(EIO, Code(errors.New("plain")))
}
