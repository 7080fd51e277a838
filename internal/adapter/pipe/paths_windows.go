//go:build windows

package pipe

import "os"

// EOL terminates every outbound command. mod-script-pipe on Windows expects
// CRLF followed by a NUL byte.
const EOL = "\r\n\x00"

const (
	readFlag  = os.O_RDONLY
	writeFlag = os.O_WRONLY
)

// DefaultPaths returns the fixed named pipes created by mod-script-pipe.
func DefaultPaths() Paths {
	return Paths{
		ToApp:   `\\.\pipe\ToSrvPipe`,
		FromApp: `\\.\pipe\FromSrvPipe`,
	}
}
