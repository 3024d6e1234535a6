package websocket

import (
	"context"
	"sync"
	"time"

	"github.com/AlibekovAA/realtime-hub/backend/internal/chat/protocol"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/constants"
	"github.com/AlibekovAA/realtime-hub/backend/internal/common/logger"
	"github.com/AlibekovAA/realtime-hub/backend/internal/observability/metrics"
)

type EventHandler interface {
	Route(ctx context.Context, peer Peer, msg protocol.WSMessage) error
}

type EventHandlerFunc func(ctx context.Context, peer Peer, msg protocol.WSMessage) error

func (f EventHandlerFunc) Route(ctx context.Context, peer Peer, msg protocol.WSMessage) error {
	return f(ctx, peer, msg)
}

type messageTask struct {
	ctx    context.Context
	peer   Peer
	msg    protocol.WSMessage
	onDone func(error)
}

// MessageProcessor runs events on a fixed set of workers. A connection is
// always hashed to the same worker, so its events are handled in the order
// they were read.
type MessageProcessor struct {
	queues  []chan messageTask
	handler EventHandler
	log     *logger.Logger
	timeout time.Duration

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
}

func NewMessageProcessor(workers, queueSize int, handler EventHandler, log *logger.Logger) *MessageProcessor {
	if workers <= 0 {
		workers = constants.WebSocketProcessorWorkers
	}
	if queueSize <= 0 {
		queueSize = constants.WebSocketProcessorQueueSize
	}

	p := &MessageProcessor{
		queues:  make([]chan messageTask, workers),
		handler: handler,
		log:     log,
		timeout: constants.WebSocketProcessorTimeout,
	}

	for i := range p.queues {
		p.queues[i] = make(chan messageTask, queueSize)
		p.wg.Add(1)
		go p.worker(p.queues[i])
	}

	return p
}

func (p *MessageProcessor) worker(queue chan messageTask) {
	defer p.wg.Done()
	for task := range queue {
		p.process(task)
	}
}

func (p *MessageProcessor) process(task messageTask) {
	if task.ctx.Err() != nil {
		return
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(task.ctx, p.timeout)
	defer cancel()

	err := p.handler.Route(ctx, task.peer, task.msg)
	if err != nil && p.log.ShouldLog(logger.DEBUG) {
		p.log.WithFields(ctx, logger.Fields{
			"connection_id": task.peer.ID(),
			"user_id":       task.peer.UserID(),
			"type":          string(task.msg.Type),
			"action":        "ws_message_processing_failed",
		}).Debugf("websocket event rejected: %v", err)
	}
	if task.onDone != nil {
		task.onDone(err)
	}

	metrics.HubEventProcessingDurationSeconds.WithLabelValues(string(task.msg.Type)).Observe(time.Since(start).Seconds())
}

// Submit enqueues msg without blocking. It reports false when the
// connection's queue is full or the processor has stopped.
func (p *MessageProcessor) Submit(ctx context.Context, peer Peer, msg protocol.WSMessage, onDone func(error)) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return false
	}

	queue := p.queues[shardFor(peer.ID(), len(p.queues))]
	select {
	case queue <- messageTask{ctx: ctx, peer: peer, msg: msg, onDone: onDone}:
		metrics.HubProcessorQueueSize.Set(float64(p.queued()))
		return true
	default:
		p.log.WithFields(ctx, logger.Fields{
			"connection_id": peer.ID(),
			"user_id":       peer.UserID(),
			"type":          string(msg.Type),
			"action":        "ws_queue_full",
		}).Warn("websocket message queue full")
		return false
	}
}

func (p *MessageProcessor) queued() int {
	n := 0
	for _, q := range p.queues {
		n += len(q)
	}
	return n
}

// Stop refuses new work and waits, bounded by ctx, for queued events to finish.
func (p *MessageProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		for _, q := range p.queues {
			close(q)
		}
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		metrics.HubProcessorQueueSize.Set(0)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
