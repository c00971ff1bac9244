package lorawan

import (
	"github.com/agsys/atmodem/internal/hal"
)

// McpsConfirm records the outcome of an application uplink and emits
// an ack/no-ack event (spec.md §4.7).
func (a *Adapter) McpsConfirm(ev hal.McpsConfirmEvent) {
	a.mu.Lock()
	if ev.ConfirmedAcked {
		a.stats.UplinksAcked++
	}
	a.mu.Unlock()

	if ev.AckReceived {
		a.emit(formatAck(1))
	} else if ev.ConfirmedAcked {
		a.emit(formatAck(0))
	}
}

// McpsIndication delivers every received downlink as a +RECV event and
// queues a zero-length uplink if FramePending is set. Certification-port
// and multicast traffic are not routed separately.
func (a *Adapter) McpsIndication(ev hal.McpsIndicationEvent) {
	if ev.Status != hal.StatusOk {
		return
	}
	a.mu.Lock()
	a.stats.DownlinksRecv++
	if ev.FramePending {
		a.queuedUplink = true
	}
	format := a.sysconf.Get().DataFormat
	a.mu.Unlock()

	// Certification-port traffic and multicast deliveries share the
	// same +RECV framing in this core; only the port/group routing a
	// full certification-test harness would need is out of scope.
	a.emit(formatRecv(ev.Port, ev.Payload, format))
}

// MlmeConfirm handles Join and LinkCheck confirmations.
func (a *Adapter) MlmeConfirm(ev hal.MlmeConfirmEvent) {
	switch ev.Kind {
	case hal.MlmeJoin:
		success := ev.Status == hal.StatusOk
		a.mu.Lock()
		a.joined = success
		if success {
			a.stats.JoinSuccesses++
		}
		class := a.class
		mask := a.channelMask
		a.mu.Unlock()
		if success {
			a.mac.MibSet(hal.MibDeviceClass, int(class))
			a.mac.MibSet(hal.MibChannelMask, mask)
		}
		a.emit(formatJoinEvent(success))
	case hal.MlmeLinkCheck:
		a.mu.Lock()
		a.lastLinkCheck = ev
		a.mu.Unlock()
		a.emit(formatLinkCheckAns(ev.Margin, ev.GwCnt))
	}
}

// MlmeIndication handles unsolicited management events, notably a
// network-requested uplink schedule.
func (a *Adapter) MlmeIndication(ev hal.MlmeIndicationEvent) {
	if ev.Kind == hal.MlmeScheduleUplink {
		a.mu.Lock()
		a.queuedUplink = true
		a.mu.Unlock()
	}
}

var _ hal.MacObserver = (*Adapter)(nil)

// emit routes a formatted event line either straight to the link (when
// async_events=true) or into the buffered queue drained between a
// command and its reply (spec.md §4.7 "Asynchronous emission").
func (a *Adapter) emit(line string) {
	async := a.sysconf.Get().AsyncEvents
	if async {
		a.mu.Lock()
		sink := a.directSink
		a.mu.Unlock()
		if sink != nil {
			sink(line)
		}
		return
	}
	a.mu.Lock()
	a.events.push(line)
	a.mu.Unlock()
}

// DrainBuffered is the atci.EventDrain hook: it writes every event
// buffered since the last reply (only relevant when async_events is
// false) and clears the queue.
func (a *Adapter) DrainBuffered(write func(string)) {
	a.mu.Lock()
	lines := a.events.drain()
	a.mu.Unlock()
	for _, l := range lines {
		write(l)
	}
}

// SetDirectSink installs the function used to emit events immediately
// when async_events=true (wired to atci.IO.Event by cmd/atmodem).
func (a *Adapter) SetDirectSink(sink func(string)) {
	a.mu.Lock()
	a.directSink = sink
	a.mu.Unlock()
}
