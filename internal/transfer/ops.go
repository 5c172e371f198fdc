package transfer

import (
	"context"
	"sync/atomic"

	"github.com/ovirt/imageio-core/internal/ticket"
)

// handlerOp adapts one handler-driven I/O step (a PUT body, a GET body, a
// PATCH zero) to ticket.Operation, so Ticket.Run can merge its in-flight
// range into transferred-bytes accounting and deliver a cancel signal
// (spec.md §4.1 "run", §5 "Cancellation").
type handlerOp struct {
	offset, length int64
	done           int64
	cancel         context.CancelFunc
	fn             func(ctx context.Context, progress func(int64)) error
	ctx            context.Context
}

func newHandlerOp(parent context.Context, offset, length int64, fn func(ctx context.Context, progress func(int64)) error) *handlerOp {
	ctx, cancel := context.WithCancel(parent)
	return &handlerOp{offset: offset, length: length, cancel: cancel, fn: fn, ctx: ctx}
}

func (o *handlerOp) Offset() int64 { return o.offset }
func (o *handlerOp) Done() int64   { return atomic.LoadInt64(&o.done) }
func (o *handlerOp) Cancel()       { o.cancel() }

func (o *handlerOp) Run() error {
	defer o.cancel()
	return o.fn(o.ctx, func(n int64) { atomic.AddInt64(&o.done, n) })
}

var _ ticket.Operation = (*handlerOp)(nil)
