package tracking

import (
	"runtime"
	"strings"
)

// frames from these packages are noise in a checkout report
var internalFrames = []string{
	"github.com/guileen/connpool/tracking.",
	"github.com/guileen/connpool/pool.",
}

// captureStack returns the current goroutine's stack without registry and
// pool frames.
func captureStack() string {
	buf := make([]byte, 8192)
	n := runtime.Stack(buf, false)
	lines := strings.Split(string(buf[:n]), "\n")

	filtered := make([]string, 0, len(lines))
	skipNext := false
	for _, line := range lines {
		if skipNext {
			skipNext = false
			continue
		}
		if isInternalFrame(line) {
			// the following line holds the frame's file:line
			skipNext = true
			continue
		}
		filtered = append(filtered, line)
	}
	return strings.TrimRight(strings.Join(filtered, "\n"), "\n")
}

func isInternalFrame(line string) bool {
	if strings.HasPrefix(line, "\t") {
		return false
	}
	for _, prefix := range internalFrames {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}
