package mqtt

import "log/slog"

// pendingMsg is a serialized message held for replay after reconnection.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a fixed-capacity FIFO of messages produced while the broker
// is unreachable. Once full, the oldest message is overwritten.
// Not safe for concurrent use; the caller synchronizes.
type backlog struct {
	msgs    []pendingMsg
	head    int // next write position
	count   int
	dropped int // overwritten since the last drain
	logger  *slog.Logger
}

func newBacklog(capacity int, logger *slog.Logger) *backlog {
	if logger == nil {
		logger = slog.Default()
	}
	return &backlog{
		msgs:   make([]pendingMsg, capacity),
		logger: logger,
	}
}

func (b *backlog) push(msg pendingMsg) {
	capacity := len(b.msgs)
	if b.count == capacity {
		if b.dropped == 0 {
			b.logger.Warn("mqtt backlog full, dropping oldest", "capacity", capacity)
		}
		b.dropped++
		// head already points at the oldest entry
		b.msgs[b.head] = msg
		b.head = (b.head + 1) % capacity
		return
	}
	b.msgs[b.head] = msg
	b.head = (b.head + 1) % capacity
	b.count++
}

// drain returns the held messages oldest first and empties the backlog.
func (b *backlog) drain() []pendingMsg {
	if b.count == 0 {
		return nil
	}

	capacity := len(b.msgs)
	out := make([]pendingMsg, b.count)
	start := (b.head - b.count + capacity) % capacity
	for i := range out {
		out[i] = b.msgs[(start+i)%capacity]
	}

	if b.dropped > 0 {
		b.logger.Warn("mqtt backlog overflowed while disconnected", "dropped", b.dropped)
	}
	b.count = 0
	b.head = 0
	b.dropped = 0
	return out
}

func (b *backlog) len() int {
	return b.count
}
