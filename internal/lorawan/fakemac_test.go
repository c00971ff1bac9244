package lorawan

import (
	"context"

	"github.com/agsys/atmodem/internal/hal"
)

// fakeMac is a hand-written MacService double, grounded in the same
// style as the teacher's MockLoRaDriver: it records every call it
// receives and lets a test script the status it should return.
type fakeMac struct {
	observer hal.MacObserver
	region   string
	busy     bool

	activateErr   error
	sendStatus    hal.MacStatus
	sendErr       error
	mib           map[hal.Mib]any
	activateCalls []hal.ActivationParams
	sendCalls     []sentUplink
}

type sentUplink struct {
	port      uint8
	payload   []byte
	confirmed bool
	retries   int
}

func newFakeMac() *fakeMac {
	return &fakeMac{mib: make(map[hal.Mib]any), sendStatus: hal.StatusOk}
}

func (m *fakeMac) Start(ctx context.Context, observer hal.MacObserver) error {
	m.observer = observer
	return nil
}

func (m *fakeMac) Stop() error { return nil }

func (m *fakeMac) Activate(params hal.ActivationParams) error {
	m.activateCalls = append(m.activateCalls, params)
	return m.activateErr
}

func (m *fakeMac) IsJoined() bool { return false }

func (m *fakeMac) Send(port uint8, payload []byte, confirmed bool, retries int) (hal.MacStatus, error) {
	m.sendCalls = append(m.sendCalls, sentUplink{port, payload, confirmed, retries})
	return m.sendStatus, m.sendErr
}

func (m *fakeMac) QueryTxPossible(length int) (hal.TxInfo, error) {
	return hal.TxInfo{Possible: true, MaxSize: 242}, nil
}

func (m *fakeMac) IsBusy() bool { return m.busy }

func (m *fakeMac) MibGet(item hal.Mib) (any, error) { return m.mib[item], nil }

func (m *fakeMac) MibSet(item hal.Mib, value any) error {
	m.mib[item] = value
	return nil
}

func (m *fakeMac) MlmeRequest(kind hal.MlmeKind) error { return nil }

func (m *fakeMac) SetRegion(region string) error {
	m.region = region
	return nil
}

func (m *fakeMac) Region() string { return m.region }

var _ hal.MacService = (*fakeMac)(nil)
