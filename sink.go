package docsync

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docsync-io/docsync/rdoc"
	"github.com/docsync-io/docsync/utils"
)

// Message is one outbound delivery unit. While it sits undispatched in
// the sink it may absorb further update payloads via Merge; the first
// dispatch seals it, so retries resend exactly the same bytes.
type Message struct {
	ObjectID string
	ID       MsgID

	payloads   [][]byte
	dispatched bool
}

func NewMessage(objectID string, id MsgID, payload []byte) *Message {
	return &Message{ObjectID: objectID, ID: id, payloads: [][]byte{payload}}
}

func (m *Message) Merge(payload []byte) {
	m.payloads = append(m.payloads, payload)
}

func (m *Message) PayloadLen() (n int) {
	for _, p := range m.payloads {
		n += len(p)
	}
	return
}

// Payload collapses the absorbed updates into one blob.
func (m *Message) Payload() ([]byte, error) {
	if len(m.payloads) == 1 {
		return m.payloads[0], nil
	}
	return rdoc.MergeUpdates(m.payloads)
}

func (m *Message) String() string {
	return fmt.Sprintf("send %s update: [msg_id:%d|payload_len:%d]", m.ObjectID, m.ID, m.PayloadLen())
}

type SinkConfig struct {
	// AckTimeout is how long a dispatched message waits for an ack
	// before being resent.
	AckTimeout time.Duration
	// MaxRetries resends before the message is declared stalled; it is
	// then re-queued with a doubled interval, up to MaxRetryPeriod.
	MaxRetries     int
	MaxRetryPeriod time.Duration
	// MergeMaxBytes stops merging into a pending message once its
	// payload grows past this size.
	MergeMaxBytes int
}

func (c *SinkConfig) SetDefaults() {
	if c.AckTimeout == 0 {
		c.AckTimeout = 2 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
	if c.MaxRetryPeriod == 0 {
		c.MaxRetryPeriod = time.Minute
	}
	if c.MergeMaxBytes == 0 {
		c.MergeMaxBytes = 1024
	}
}

// Sink is an ordered, at-least-once outbound queue for one target
// object. Credit is one message in flight; further local edits merge
// into the pending head instead of queueing, which bounds chatter under
// rapid editing. Pending ids sit in a min-heap so the lowest id always
// dispatches first.
type Sink struct {
	objectID string
	conf     SinkConfig
	counter  MsgIDCounter
	log      utils.Logger

	// send hands a sealed message to the transport bridge; it must not
	// call back into the sink synchronously.
	send func(*Message)

	mu        sync.Mutex
	ids       utils.Heap[MsgID]
	msgs      map[MsgID]*Message
	mergeable MsgID // newest undispatched message, 0 if none
	inflight  MsgID // 0 if none
	attempts  int
	interval  time.Duration

	notify chan struct{}
	closed atomic.Bool
}

func NewSink(objectID string, counter MsgIDCounter, conf SinkConfig, log utils.Logger, send func(*Message)) *Sink {
	conf.SetDefaults()
	return &Sink{
		objectID: objectID,
		conf:     conf,
		counter:  counter,
		log:      log,
		send:     send,
		msgs:     make(map[MsgID]*Message),
		notify:   make(chan struct{}, 1),
	}
}

// EnqueueOrMerge merges the payload into an undispatched pending message
// when one exists and still accepts merges; otherwise it consumes a new
// id and builds a fresh message.
func (s *Sink) EnqueueOrMerge(mergeFn func(*Message), buildFn func(MsgID) *Message) {
	s.mu.Lock()
	if m, ok := s.msgs[s.mergeable]; ok && !m.dispatched && m.PayloadLen() < s.conf.MergeMaxBytes {
		mergeFn(m)
	} else {
		id := s.counter.Next()
		m := buildFn(id)
		s.msgs[id] = m
		s.ids.Push(id)
		s.mergeable = id
	}
	s.mu.Unlock()
	s.signal()
}

// Ack removes the message with that id, unblocking the next dispatch.
func (s *Sink) Ack(id MsgID) {
	s.mu.Lock()
	_, ok := s.msgs[id]
	if ok {
		delete(s.msgs, id)
		s.ids.RemoveValue(id)
		if s.inflight == id {
			s.inflight = 0
			s.attempts = 0
		}
		if s.mergeable == id {
			s.mergeable = 0
		}
	}
	s.mu.Unlock()
	if ok {
		SinkAckCount.WithLabelValues(s.objectID).Inc()
		s.signal()
	}
}

func (s *Sink) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Close stops the dispatch loop at its next liveness check.
func (s *Sink) Close() {
	s.closed.Store(true)
	s.signal()
}

func (s *Sink) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Run is the dispatch loop: suspend until new work, an ack, or a retry
// timeout; dispatch the head message; resend the same sealed message
// when the ack does not arrive in time.
func (s *Sink) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		if s.closed.Load() {
			return
		}
		s.dispatchHead(timer)
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		case <-timer.C:
			s.retry(timer)
		}
	}
}

func (s *Sink) dispatchHead(timer *time.Timer) {
	s.mu.Lock()
	if s.inflight != 0 {
		s.mu.Unlock()
		return
	}
	var m *Message
	for m == nil {
		id, ok := s.ids.Peek()
		if !ok {
			s.mu.Unlock()
			return
		}
		if m = s.msgs[id]; m == nil {
			s.ids.Pop() // stale id with no message behind it
		}
	}
	m.dispatched = true
	if s.mergeable == m.ID {
		s.mergeable = 0
	}
	s.inflight = m.ID
	s.attempts = 0
	s.interval = s.conf.AckTimeout
	timer.Reset(s.interval)
	s.mu.Unlock()

	s.log.Debug("sink: dispatch", "msg", m.String())
	s.send(m)
}

func (s *Sink) retry(timer *time.Timer) {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return
	}
	m := s.msgs[s.inflight]
	if m == nil {
		s.inflight = 0
		s.mu.Unlock()
		return
	}
	s.attempts++
	if s.attempts > s.conf.MaxRetries {
		// Stalled target: back off and keep the message queued rather
		// than dropping it; persistent failure stays observable as an
		// absent ack plus this counter.
		s.attempts = 0
		s.interval *= 2
		if s.interval > s.conf.MaxRetryPeriod {
			s.interval = s.conf.MaxRetryPeriod
		}
		SinkRetryExhausted.WithLabelValues(s.objectID).Inc()
		s.log.Error("sink: retries exhausted, backing off",
			"msg", m.String(), "interval", s.interval)
	} else {
		SinkRetryCount.WithLabelValues(s.objectID).Inc()
		s.log.Debug("sink: resend", "msg", m.String(), "attempt", s.attempts)
	}
	timer.Reset(s.interval)
	s.mu.Unlock()

	s.send(m)
}
