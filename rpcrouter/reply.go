package rpcrouter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/telegate/gwcore/model"
)

// ReplyPublisher is the platform.Client slice the Reply Sender uses to
// deliver RPC outcomes.
type ReplyPublisher interface {
	SendRPCReply(ctx context.Context, requestID string, result map[string]any) model.Future
	GwSendRPCReply(ctx context.Context, device, requestID string, result map[string]any) model.Future
}

// pendingReply is one outcome waiting to be sent to the platform.
type pendingReply struct {
	device    string // empty means self-scoped (the gateway's own RPC)
	requestID string
	result    map[string]any
}

// ReplySender is the single-producer worker that serializes RPC replies
// to the platform (spec §4.5/§5): both router halves push through it so
// reply ordering relative to data publishes stays deterministic, and so
// the Dispatcher can yield to it via InFlight.
type ReplySender struct {
	publisher ReplyPublisher
	queue     *fifo[pendingReply]
	inFlight  atomic.Bool
}

func NewReplySender(publisher ReplyPublisher) *ReplySender {
	return &ReplySender{publisher: publisher, queue: newFIFO[pendingReply]()}
}

// InFlight reports whether a reply is currently being sent — the
// Dispatcher's Options.RPCReplyInFlight hook (spec §4.3) polls this so
// data publishes never race an in-progress RPC reply.
func (s *ReplySender) InFlight() bool { return s.inFlight.Load() }

// ReplyFuncFor returns a ReplyFunc that enqueues the outcome for
// sending rather than sending it synchronously from the router
// goroutine, keyed by the device the request targeted (empty for a
// gateway-scoped request).
func (s *ReplySender) ReplyFuncFor(device, requestID string) ReplyFunc {
	return func(result map[string]any, rpcErr *RPCError) {
		if rpcErr != nil {
			result = map[string]any{"error": rpcErr.Message, "code": rpcErr.Code}
		}
		s.queue.push(pendingReply{device: device, requestID: requestID, result: result})
	}
}

func (s *ReplySender) Run(ctx context.Context, stopCh <-chan struct{}) {
	const pollInterval = 50 * time.Millisecond
	for {
		reply, ok := s.queue.pop(pollInterval, stopCh)
		if !ok {
			return
		}

		s.inFlight.Store(true)
		var f model.Future
		if reply.device == "" {
			f = s.publisher.SendRPCReply(ctx, reply.requestID, reply.result)
		} else {
			f = s.publisher.GwSendRPCReply(ctx, reply.device, reply.requestID, reply.result)
		}
		_ = f.Get(ctx)
		s.inFlight.Store(false)
	}
}
