package lorawan

import (
	"fmt"

	"github.com/agsys/atmodem/internal/sysconf"
)

// eventQueue buffers formatted event lines while async_events is
// false, drained only between a command and its reply (spec.md §4.7).
type eventQueue struct {
	lines []string
}

func (q *eventQueue) push(line string) {
	q.lines = append(q.lines, line)
}

func (q *eventQueue) drain() []string {
	lines := q.lines
	q.lines = nil
	return lines
}

func formatJoinEvent(success bool) string {
	if success {
		return "+EVENT=1,1\r\n"
	}
	return "+EVENT=1,0\r\n"
}

func formatLinkCheckAns(margin, gwCnt uint8) string {
	return fmt.Sprintf("+ANS=2,%d,%d\r\n", margin, gwCnt)
}

func formatAck(n int) string {
	return fmt.Sprintf("+ACK=%d\r\n", n)
}

func formatRecv(port uint8, payload []byte, format sysconf.DataFormat) string {
	var body string
	if format == sysconf.FormatHex {
		body = fmt.Sprintf("%x", payload)
	} else {
		body = string(payload)
	}
	return fmt.Sprintf("+RECV=%d,%d\r\n%s\r\n", port, len(payload), body)
}
