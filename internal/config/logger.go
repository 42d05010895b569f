package config

import (
	"io"
	"log"
	"os"
	"sync"
)

// NewLogger stamps lines with microsecond local time, or UTC when utc is set.
func NewLogger(w io.Writer, utc bool) *log.Logger {
	flags := log.Ldate | log.Ltime | log.Lmicroseconds
	if utc {
		flags |= log.LUTC
	}
	return log.New(w, "", flags)
}

// GetLogger returns the process logger on stdout. LOG_UTC=true switches
// timestamps to UTC; it is read once.
var GetLogger = sync.OnceValue(func() *log.Logger {
	return NewLogger(os.Stdout, getenvBool("LOG_UTC", false))
})
