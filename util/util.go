package util

import (
	"fmt"
	"log/slog"
)

// Debug is the verbosity threshold for DPrintf; messages with a level above
// it are dropped.
var Debug uint64 = 0

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		slog.Debug(fmt.Sprintf(format, a...), "level", level)
	}
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
