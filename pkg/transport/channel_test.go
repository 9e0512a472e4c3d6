package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fitdis/fitdis-go/pkg/eventloop"
	"github.com/fitdis/fitdis-go/pkg/log"
)

const waitTimeout = 2 * time.Second

type recordingHandler struct {
	received   chan []byte
	completed  chan struct{}
	sendFailed chan error
	recvFailed chan error
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		received:   make(chan []byte, 8),
		completed:  make(chan struct{}, 8),
		sendFailed: make(chan error, 8),
		recvFailed: make(chan error, 8),
	}
}

func (h *recordingHandler) OnReceived(data []byte) { h.received <- data }
func (h *recordingHandler) OnSendComplete()        { h.completed <- struct{}{} }
func (h *recordingHandler) OnSendFailed(err error) { h.sendFailed <- err }
func (h *recordingHandler) OnReceiveFailed(err error) {
	h.recvFailed <- err
}

// quiet asserts that no callback arrives within d.
func (h *recordingHandler) quiet(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case data := <-h.received:
		t.Errorf("unexpected OnReceived(%x)", data)
	case <-h.completed:
		t.Error("unexpected OnSendComplete")
	case err := <-h.sendFailed:
		t.Errorf("unexpected OnSendFailed(%v)", err)
	case err := <-h.recvFailed:
		t.Errorf("unexpected OnReceiveFailed(%v)", err)
	case <-time.After(d):
	}
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func testConfig(inbound, outbound int) Config {
	logger, _ := test.NewNullLogger()
	return Config{
		InboundCapacity:  inbound,
		OutboundCapacity: outbound,
		NegotiateTimeout: time.Second,
		AckTimeout:       time.Second,
		Logger:           logger,
	}
}

// openPair opens two channels against each other over an in-memory pipe.
func openPair(t *testing.T, a, b Config) (*Channel, *recordingHandler, *Channel, *recordingHandler) {
	t.Helper()
	linkA, linkB := Pipe()
	ha, hb := newRecordingHandler(), newRecordingHandler()

	type result struct {
		ch  *Channel
		err error
	}
	resB := make(chan result, 1)
	go func() {
		ch, err := Open(context.Background(), linkB, b, eventloop.Inline{}, hb)
		resB <- result{ch, err}
	}()

	chA, err := Open(context.Background(), linkA, a, eventloop.Inline{}, ha)
	require.NoError(t, err)
	rb := <-resB
	require.NoError(t, rb.err)

	t.Cleanup(func() {
		chA.Close()
		rb.ch.Close()
	})
	return chA, ha, rb.ch, hb
}

// openRaw opens a channel against a raw link driven by the test. The raw
// side advertises the given capacities.
func openRaw(t *testing.T, config Config, peerInbound, peerOutbound int) (*Channel, *recordingHandler, *StreamLink) {
	t.Helper()
	linkA, raw := Pipe()
	h := newRecordingHandler()

	type result struct {
		ch  *Channel
		err error
	}
	res := make(chan result, 1)
	go func() {
		ch, err := Open(context.Background(), linkA, config, eventloop.Inline{}, h)
		res <- result{ch, err}
	}()

	frame, err := raw.ReadFrame()
	require.NoError(t, err)
	p, err := decodePacket(frame)
	require.NoError(t, err)
	require.Equal(t, PacketHello, p.Kind)
	require.NoError(t, raw.WriteFrame(encodeHello(hello{
		Version:  ProtocolVersion,
		Inbound:  peerInbound,
		Outbound: peerOutbound,
	})))

	r := <-res
	require.NoError(t, r.err)
	t.Cleanup(func() {
		r.ch.Close()
		raw.Close()
	})
	return r.ch, h, raw
}

func readPacket(t *testing.T, raw *StreamLink) packet {
	t.Helper()
	frame, err := raw.ReadFrame()
	require.NoError(t, err)
	p, err := decodePacket(frame)
	require.NoError(t, err)
	return p
}

func TestChannelNegotiatesMinimumCapacities(t *testing.T) {
	device, _, host, _ := openPair(t, testConfig(64, 16), testConfig(8, 100))

	assert.Equal(t, 64, device.InboundCapacity())
	assert.Equal(t, 8, device.OutboundCapacity())
	assert.Equal(t, 8, host.InboundCapacity())
	assert.Equal(t, 64, host.OutboundCapacity())
	assert.Equal(t, StateOpen, device.State())
}

func TestChannelDeliversAndCompletes(t *testing.T) {
	device, dh, host, hh := openPair(t, DefaultDeviceConfig(), DefaultHostConfig())

	require.NoError(t, host.Send([]byte{0x01, 0x02, 0x03}))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, waitFor(t, dh.received, "OnReceived"))
	waitFor(t, hh.completed, "OnSendComplete")
	assert.False(t, host.InFlight())

	require.NoError(t, device.Send([]byte("up")))
	assert.Equal(t, []byte("up"), waitFor(t, hh.received, "OnReceived"))
	waitFor(t, dh.completed, "OnSendComplete")
}

func TestChannelSendErrors(t *testing.T) {
	ch, _, raw := openRaw(t, testConfig(64, 16), 8, 64)

	assert.ErrorIs(t, ch.Send(nil), ErrMessageEmpty)
	assert.ErrorIs(t, ch.Send(make([]byte, 9)), ErrTooLarge)
	assert.False(t, ch.InFlight(), "rejected send must not occupy the channel")

	require.NoError(t, ch.Send(make([]byte, 8)))
	assert.ErrorIs(t, ch.Send([]byte{1}), ErrChannelBusy)

	p := readPacket(t, raw)
	assert.Equal(t, PacketPush, p.Kind)
	assert.Len(t, p.Body, 8)
}

func TestChannelNackReportsRejected(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	require.NoError(t, ch.Send([]byte{1}))
	p := readPacket(t, raw)
	require.NoError(t, raw.WriteFrame(encodePacket(PacketNack, p.TxID, nil)))

	err := waitFor(t, h.sendFailed, "OnSendFailed")
	assert.ErrorIs(t, err, ErrRejected)
	assert.False(t, ch.InFlight())
}

func TestChannelIgnoresStaleAck(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	require.NoError(t, ch.Send([]byte{1}))
	p := readPacket(t, raw)

	require.NoError(t, raw.WriteFrame(encodePacket(PacketAck, p.TxID+5, nil)))
	h.quiet(t, 50*time.Millisecond)
	assert.True(t, ch.InFlight())

	require.NoError(t, raw.WriteFrame(encodePacket(PacketAck, p.TxID, nil)))
	waitFor(t, h.completed, "OnSendComplete")
}

func TestChannelAckTimeout(t *testing.T) {
	config := testConfig(64, 16)
	config.AckTimeout = 50 * time.Millisecond
	ch, h, raw := openRaw(t, config, 64, 64)

	require.NoError(t, ch.Send([]byte{1}))
	first := readPacket(t, raw)

	err := waitFor(t, h.sendFailed, "OnSendFailed")
	assert.ErrorIs(t, err, ErrSendTimeout)
	assert.False(t, ch.InFlight())

	// A late ACK for the timed-out message is ignored.
	require.NoError(t, raw.WriteFrame(encodePacket(PacketAck, first.TxID, nil)))
	h.quiet(t, 50*time.Millisecond)

	require.NoError(t, ch.Send([]byte{2}))
	second := readPacket(t, raw)
	assert.NotEqual(t, first.TxID, second.TxID)
}

func TestChannelInboundOverflowIsNacked(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(8, 16), 64, 64)
	require.Equal(t, 8, ch.InboundCapacity())

	require.NoError(t, raw.WriteFrame(encodePacket(PacketPush, 3, make([]byte, 9))))

	p := readPacket(t, raw)
	assert.Equal(t, PacketNack, p.Kind)
	assert.Equal(t, uint8(3), p.TxID)
	assert.ErrorIs(t, waitFor(t, h.recvFailed, "OnReceiveFailed"), ErrInboundOverflow)

	require.NoError(t, raw.WriteFrame(encodePacket(PacketPush, 4, []byte{0xAB})))
	p = readPacket(t, raw)
	assert.Equal(t, PacketAck, p.Kind)
	assert.Equal(t, []byte{0xAB}, waitFor(t, h.received, "OnReceived"))
}

func TestChannelLinkLossDuringSendReportedOnce(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	require.NoError(t, ch.Send([]byte{1}))
	readPacket(t, raw)
	raw.Close()

	err := waitFor(t, h.sendFailed, "OnSendFailed")
	assert.ErrorIs(t, err, ErrLinkDown)
	h.quiet(t, 100*time.Millisecond)
	assert.Equal(t, StateDown, ch.State())
	assert.ErrorIs(t, ch.Send([]byte{1}), ErrLinkDown)
}

func TestChannelLinkLossWhileIdle(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	raw.Close()
	err := waitFor(t, h.recvFailed, "OnReceiveFailed")
	assert.ErrorIs(t, err, ErrLinkDown)
	assert.True(t, IsClosed(err))
	h.quiet(t, 50*time.Millisecond)
	<-ch.Done()
}

func TestChannelNoCallbacksAfterClose(t *testing.T) {
	config := testConfig(64, 16)
	config.AckTimeout = 30 * time.Millisecond
	ch, h, raw := openRaw(t, config, 64, 64)

	require.NoError(t, ch.Send([]byte{1}))
	readPacket(t, raw)

	require.NoError(t, ch.Close())
	assert.Equal(t, StateClosed, ch.State())
	assert.False(t, ch.InFlight())
	h.quiet(t, 100*time.Millisecond)

	assert.ErrorIs(t, ch.Send([]byte{1}), ErrLinkDown)
	assert.NoError(t, ch.Close())
}

func TestChannelDropsQueuedCallbacksAfterClose(t *testing.T) {
	loop := eventloop.New(8)
	h := newRecordingHandler()
	linkA, raw := Pipe()

	go func() {
		raw.ReadFrame()
		raw.WriteFrame(encodeHello(hello{Version: ProtocolVersion, Inbound: 64, Outbound: 64}))
	}()
	ch, err := Open(context.Background(), linkA, testConfig(64, 16), loop, h)
	require.NoError(t, err)
	defer raw.Close()

	// The loop is not running yet, so the delivery stays queued.
	require.NoError(t, raw.WriteFrame(encodePacket(PacketPush, 1, []byte{1})))
	readPacket(t, raw)
	ch.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	loop.Call(func() {})
	cancel()

	h.quiet(t, 20*time.Millisecond)
}

func TestChannelMalformedPacket(t *testing.T) {
	_, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	require.NoError(t, raw.WriteFrame([]byte{0x09, 0x00}))
	assert.ErrorIs(t, waitFor(t, h.recvFailed, "OnReceiveFailed"), ErrMalformedPacket)
}

func TestChannelEmptyFrameKeepsLink(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	// A bare zero length prefix.
	_, err := raw.rwc.Write([]byte{0x00, 0x00})
	require.NoError(t, err)

	err = waitFor(t, h.recvFailed, "OnReceiveFailed")
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.ErrorIs(t, err, ErrMessageEmpty)
	assert.NotErrorIs(t, err, ErrLinkDown)
	assert.Equal(t, StateOpen, ch.State())

	require.NoError(t, raw.WriteFrame(encodePacket(PacketPush, 7, []byte{0x01})))
	assert.Equal(t, []byte{0x01}, waitFor(t, h.received, "OnReceived"))
	p := readPacket(t, raw)
	assert.Equal(t, PacketAck, p.Kind)
	assert.Equal(t, uint8(7), p.TxID)
}

func TestChannelSendNotBlockedByQueuedReplies(t *testing.T) {
	ch, h, raw := openRaw(t, testConfig(64, 16), 64, 64)

	// The raw side stops reading, so the ACK replies back up: one held by
	// the writer, the rest filling the reply queue.
	pushes := writeQueueSize + 1
	for i := 1; i <= pushes; i++ {
		require.NoError(t, raw.WriteFrame(encodePacket(PacketPush, uint8(i), []byte{byte(i)})))
		waitFor(t, h.received, "OnReceived")
	}
	require.Eventually(t, func() bool { return len(ch.writeCh) == writeQueueSize }, waitTimeout, time.Millisecond)

	require.NoError(t, ch.Send([]byte{0xAA}))
	assert.True(t, ch.InFlight())

	acks := 0
	var push packet
	for i := 0; i < pushes+1; i++ {
		p := readPacket(t, raw)
		switch p.Kind {
		case PacketAck:
			acks++
		case PacketPush:
			push = p
		}
	}
	assert.Equal(t, pushes, acks)
	require.Equal(t, PacketPush, push.Kind)
	assert.Equal(t, []byte{0xAA}, push.Body)

	require.NoError(t, raw.WriteFrame(encodePacket(PacketAck, push.TxID, nil)))
	waitFor(t, h.completed, "OnSendComplete")
}

func TestOpenVersionMismatch(t *testing.T) {
	linkA, raw := Pipe()
	defer raw.Close()

	go func() {
		raw.ReadFrame()
		raw.WriteFrame(encodeHello(hello{Version: ProtocolVersion + 1, Inbound: 64, Outbound: 64}))
	}()

	_, err := Open(context.Background(), linkA, testConfig(64, 16), eventloop.Inline{}, newRecordingHandler())
	assert.ErrorIs(t, err, ErrNegotiation)
}

func TestOpenNegotiateTimeout(t *testing.T) {
	linkA, raw := Pipe()
	defer raw.Close()

	// Drain our HELLO but never answer.
	go raw.ReadFrame()

	config := testConfig(64, 16)
	config.NegotiateTimeout = 50 * time.Millisecond
	_, err := Open(context.Background(), linkA, config, eventloop.Inline{}, newRecordingHandler())
	assert.ErrorIs(t, err, ErrNegotiation)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestOpenInvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config Config
	}{
		{name: "zero inbound", config: testConfig(0, 16)},
		{name: "zero outbound", config: testConfig(64, 0)},
		{name: "outbound above frame", config: testConfig(64, MaxCapacity+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			linkA, raw := Pipe()
			defer raw.Close()
			_, err := Open(context.Background(), linkA, tt.config, eventloop.Inline{}, newRecordingHandler())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestChannelLogsPacketsAndState(t *testing.T) {
	capture := &capturingLogger{}
	config := testConfig(64, 16)
	config.ProtocolLogger = capture
	config.Role = log.RoleDevice
	config.ConnectionID = "conn-1"

	ch, _, raw := openRaw(t, config, 64, 64)
	require.NoError(t, ch.Send([]byte{1}))
	p := readPacket(t, raw)
	require.NoError(t, raw.WriteFrame(encodePacket(PacketAck, p.TxID, nil)))

	collect := func() (kinds, states []string) {
		for _, e := range capture.Events() {
			if e.Packet != nil {
				kinds = append(kinds, e.Direction.String()+" "+e.Packet.Kind)
			}
			if e.StateChange != nil {
				states = append(states, e.StateChange.NewState)
			}
		}
		return kinds, states
	}
	require.Eventually(t, func() bool {
		kinds, _ := collect()
		return len(kinds) == 4
	}, waitTimeout, 5*time.Millisecond)

	for _, e := range capture.Events() {
		assert.Equal(t, "conn-1", e.ConnectionID)
		assert.Equal(t, log.RoleDevice, e.LocalRole)
	}
	kinds, states := collect()
	assert.ElementsMatch(t, []string{"OUT HELLO", "IN HELLO", "OUT PUSH", "IN ACK"}, kinds)
	assert.Equal(t, []string{"NEGOTIATING", "OPEN"}, states)
}

func TestChannelOperationalLogging(t *testing.T) {
	logger, hook := test.NewNullLogger()
	config := testConfig(64, 16)
	config.Logger = logger

	_, h, raw := openRaw(t, config, 64, 64)
	raw.Close()
	waitFor(t, h.recvFailed, "OnReceiveFailed")

	var messages []string
	for _, e := range hook.AllEntries() {
		messages = append(messages, e.Message)
	}
	assert.Contains(t, messages, "channel open")
	assert.Contains(t, messages, "link closed by peer")
	assert.Equal(t, logrus.InfoLevel, hook.LastEntry().Level)
}

func TestErrorName(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrChannelBusy, "CHANNEL_BUSY"},
		{errors.Join(ErrLinkDown, errors.New("eof")), "LINK_DOWN"},
		{ErrSendTimeout, "SEND_TIMEOUT"},
		{ErrRejected, "REJECTED"},
		{ErrTooLarge, "TOO_LARGE"},
		{errors.New("other"), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ErrorName(tt.err))
	}
}

func TestChannelConcurrentSendsOneWins(t *testing.T) {
	ch, _, raw := openRaw(t, testConfig(64, 16), 64, 64)

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ch.Send([]byte{1}) == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, accepted)
	readPacket(t, raw)
}
