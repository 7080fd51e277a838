//go:build unix

package pipe

import (
	"os"
	"strconv"
	"syscall"
)

// EOL terminates every outbound command.
const EOL = "\n"

const pipeBase = "/tmp/audacity_script_pipe."

// Both ends are opened non-blocking so that opening a FIFO never parks the
// caller in open(2); the read loop polls instead.
const (
	readFlag  = os.O_RDONLY | syscall.O_NONBLOCK
	writeFlag = os.O_WRONLY | syscall.O_NONBLOCK
)

// DefaultPaths returns the per-user FIFOs created by mod-script-pipe.
func DefaultPaths() Paths {
	uid := strconv.Itoa(os.Getuid())
	return Paths{
		ToApp:   pipeBase + "to." + uid,
		FromApp: pipeBase + "from." + uid,
	}
}
