package layout

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-ftlfs/common"
	"github.com/mit-pdos/go-ftlfs/errno"
)

// DEntry is the 256-byte on-disk directory entry:
//
//	name [128]byte | type u32 | inum u32 | valid u8 | 119 bytes zero
//
// Names shorter than 128 bytes are NUL terminated.
type DEntry struct {
	Name  string
	Type  common.FileType
	Inum  common.Inum
	Valid bool
}

// CheckName reports whether name can be stored in a directory entry.
func CheckName(name string) error {
	if name == "" || strings.ContainsAny(name, "/\x00") {
		return errno.Newf(errno.EINVAL, "invalid name %q", name)
	}
	if uint64(len(name)) > common.MAXNAMELEN {
		return errno.Newf(errno.ENAMETOOLONG, "%d bytes", len(name))
	}
	return nil
}

func dentryBytes(page []byte, slot uint64) []byte {
	if slot >= common.DENTPAGE {
		panic(fmt.Errorf("dentry slot %d out of range", slot))
	}
	off := slot * common.DENTRYSZ
	return page[off : off+common.DENTRYSZ]
}

func DecodeDEntry(page []byte, slot uint64) DEntry {
	dec := marshal.NewDec(dentryBytes(page, slot))
	name := dec.GetBytes(common.MAXNAMELEN)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	t := dec.GetInt32()
	inum := dec.GetInt32()
	valid := dec.GetBytes(1)[0] != 0
	return DEntry{
		Name:  string(name),
		Type:  common.FileType(t),
		Inum:  common.Inum(inum),
		Valid: valid,
	}
}

// Encode writes de into slot, clearing whatever the slot held. The name must
// pass CheckName.
func (de DEntry) Encode(page []byte, slot uint64) {
	if uint64(len(de.Name)) > common.MAXNAMELEN {
		panic(fmt.Errorf("dentry name too long: %q", de.Name))
	}
	name := make([]byte, common.MAXNAMELEN)
	copy(name, de.Name)
	valid := byte(0)
	if de.Valid {
		valid = 1
	}
	enc := marshal.NewEnc(common.DENTRYSZ)
	enc.PutBytes(name)
	enc.PutInt32(uint32(de.Type))
	enc.PutInt32(uint32(de.Inum))
	enc.PutBytes([]byte{valid})
	copy(dentryBytes(page, slot), enc.Finish())
}
