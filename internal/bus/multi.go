package bus

import (
	"fmt"

	"github.com/covswarm/cfd-driver/internal/config"
	"github.com/pebbe/zmq4"
	"github.com/sirupsen/logrus"
)

// Multi is the multi-driver ZeroMQ implementation of Sink: a PUSH socket
// for interesting-push, a SUB socket for use-sub, and a REP socket bound
// for metric-rep.
type Multi struct {
	log *logrus.Entry

	push *zmq4.Socket // connects to localhost:i
	sub  *zmq4.Socket // connects to localhost:u, subscribed to topic "A"
	rep  *zmq4.Socket // binds *:m

	pendingReply bool // true between a successful PollMetricRequest and its ReplyMetric
}

// NewMulti brings up the three messaging endpoints described by ports.
func NewMulti(ports *config.Ports, log *logrus.Entry) (*Multi, error) {
	push, err := zmq4.NewSocket(zmq4.PUSH)
	if err != nil {
		return nil, fmt.Errorf("creating interesting-push socket: %w", err)
	}
	if err := push.Connect(fmt.Sprintf("tcp://localhost:%d", ports.Interesting)); err != nil {
		push.Close()
		return nil, fmt.Errorf("connecting interesting-push to port %d: %w", ports.Interesting, err)
	}

	sub, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		push.Close()
		return nil, fmt.Errorf("creating use-sub socket: %w", err)
	}
	if err := sub.Connect(fmt.Sprintf("tcp://localhost:%d", ports.Use)); err != nil {
		push.Close()
		sub.Close()
		return nil, fmt.Errorf("connecting use-sub to port %d: %w", ports.Use, err)
	}
	if err := sub.SetSubscribe(useSubTopic); err != nil {
		push.Close()
		sub.Close()
		return nil, fmt.Errorf("subscribing use-sub to topic %q: %w", useSubTopic, err)
	}

	rep, err := zmq4.NewSocket(zmq4.REP)
	if err != nil {
		push.Close()
		sub.Close()
		return nil, fmt.Errorf("creating metric-rep socket: %w", err)
	}
	if err := rep.Bind(fmt.Sprintf("tcp://*:%d", ports.Metric)); err != nil {
		push.Close()
		sub.Close()
		rep.Close()
		return nil, fmt.Errorf("binding metric-rep to port %d: %w", ports.Metric, err)
	}

	for _, sock := range []*zmq4.Socket{push, sub, rep} {
		_ = sock.SetRcvtimeo(0)
		_ = sock.SetSndtimeo(0)
	}

	return &Multi{log: log, push: push, sub: sub, rep: rep}, nil
}

// PublishInteresting sends the interesting-push message. In this protocol
// the sink does not encode the metric fields into the wire message itself
// (those are logged locally and recomputed on demand via metric-rep); the
// parameters are accepted so Multi and Single share one call site.
func (m *Multi) PublishInteresting(evt Interesting, _ int, _ int, _ int, _ uint64, _ int64) error {
	_, err := m.push.Send(formatInteresting(evt), zmq4.DONTWAIT)
	if err != nil {
		return fmt.Errorf("publishing interesting-push message: %w", err)
	}
	return nil
}

// PollMetricRequest does a non-blocking receive on the REP socket.
func (m *Multi) PollMetricRequest() (string, bool, error) {
	msg, err := m.rep.Recv(zmq4.DONTWAIT)
	if err != nil {
		if isWouldBlock(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("polling metric-rep: %w", err)
	}
	m.pendingReply = true
	return msg, true, nil
}

// ReplyMetric sends the reply for the request most recently returned by
// PollMetricRequest. REQ/REP sockets require exactly one reply per
// request; calling this without a pending request is a programmer error.
func (m *Multi) ReplyMetric(value int) error {
	if !m.pendingReply {
		return fmt.Errorf("ReplyMetric called with no pending metric-rep request")
	}
	if _, err := m.rep.Send(formatMetricReply(value), 0); err != nil {
		return fmt.Errorf("replying to metric-rep: %w", err)
	}
	m.pendingReply = false
	return nil
}

// PollInjection does one non-blocking receive on the SUB socket. If the
// message it gets is addressed to selfID it is returned; otherwise ok is
// false, and no further messages are read this poll.
func (m *Multi) PollInjection(selfID string) (Injection, bool, error) {
	msg, err := m.sub.Recv(zmq4.DONTWAIT)
	if err != nil {
		if isWouldBlock(err) {
			return Injection{}, false, nil
		}
		return Injection{}, false, fmt.Errorf("polling use-sub: %w", err)
	}
	inj, matched, err := parseUseSub(msg, selfID)
	if err != nil {
		// Malformed peer message: a PeerError, logged and skipped by the
		// caller rather than treated as fatal.
		return Injection{}, false, err
	}
	return inj, matched, nil
}

// Close releases all three sockets.
func (m *Multi) Close() error {
	var firstErr error
	for _, sock := range []*zmq4.Socket{m.push, m.sub, m.rep} {
		if err := sock.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func isWouldBlock(err error) bool {
	return err != nil && zmq4.AsErrno(err) == zmq4.Errno(zmq4.EAGAIN)
}
