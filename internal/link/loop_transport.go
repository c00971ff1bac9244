package link

import "io"

// loopTransport is an in-memory Transport double for tests: bytes
// written to In arrive on Read, bytes written via Write arrive on Out.
// Safe for one reader and one writer goroutine, matching Link's own
// single-pump-per-direction usage.
type loopTransport struct {
	in  *io.PipeReader
	out *io.PipeWriter

	inW  *io.PipeWriter // test-side: feed bytes as if from the host
	outR *io.PipeReader // test-side: observe bytes as if sent to the host
}

// newLoopTransport returns a Transport plus the two test-facing ends:
// feed to simulate host-to-device bytes, observe to read device-to-
// host bytes.
func newLoopTransport() (t *loopTransport, feed io.Writer, observe io.Reader) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	lt := &loopTransport{in: inR, out: outW, inW: inW, outR: outR}
	return lt, inW, outR
}

// NewLoopback returns an in-memory Transport suitable for wiring a
// Link in tests outside this package (internal/atci's own test
// suite): feed simulates host-to-device bytes, observe reads
// device-to-host bytes.
func NewLoopback() (t Transport, feed io.Writer, observe io.Reader) {
	return newLoopTransport()
}

func (t *loopTransport) Read(p []byte) (int, error)  { return t.in.Read(p) }
func (t *loopTransport) Write(p []byte) (int, error) { return t.out.Write(p) }
func (t *loopTransport) Close() error {
	t.in.Close()
	t.out.Close()
	t.inW.Close()
	t.outR.Close()
	return nil
}
