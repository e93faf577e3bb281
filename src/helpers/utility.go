package helpers

import (
	"bytes"
	"runtime"
	"strconv"

	"github.com/google/uuid"
)

// GenerateUUID returns a new random identifier string
func GenerateUUID() string {
	return uuid.New().String()
}

// GoroutineID returns the numeric id of the calling goroutine, parsed
// from the runtime stack header ("goroutine 12 [running]:"). The id is
// only used as a cache affinity key, never for scheduling.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := bytes.Fields(buf[:n])
	if len(fields) < 2 {
		return 0
	}
	id, err := strconv.ParseUint(string(fields[1]), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
