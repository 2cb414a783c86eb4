package pool

import (
	"container/list"
	"sync/atomic"
)

const (
	waiterPending int32 = iota
	waiterFulfilled
	waiterCancelled
)

// grant is what a releaser hands a parked waiter: an idle slot, or (pc ==
// nil) a capacity reservation the waiter must dial into itself.
type grant struct {
	pc  *pooledConn
	err error
}

// waiter is a single-use token. Exactly one of fulfill and cancel wins.
type waiter struct {
	state atomic.Int32
	ch    chan grant
	elem  *list.Element
}

func newWaiter() *waiter {
	return &waiter{ch: make(chan grant, 1)}
}

func (w *waiter) fulfill(g grant) bool {
	if !w.state.CompareAndSwap(waiterPending, waiterFulfilled) {
		return false
	}
	w.ch <- g
	return true
}

func (w *waiter) cancel() bool {
	return w.state.CompareAndSwap(waiterPending, waiterCancelled)
}

type waiterQueue struct {
	l list.List
}

func (q *waiterQueue) push(w *waiter) {
	w.elem = q.l.PushBack(w)
}

func (q *waiterQueue) pop() *waiter {
	e := q.l.Front()
	if e == nil {
		return nil
	}
	w := q.l.Remove(e).(*waiter)
	w.elem = nil
	return w
}

func (q *waiterQueue) remove(w *waiter) {
	if w.elem == nil {
		return
	}
	q.l.Remove(w.elem)
	w.elem = nil
}

func (q *waiterQueue) len() int {
	return q.l.Len()
}
