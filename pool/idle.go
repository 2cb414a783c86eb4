package pool

import "container/list"

// idleList holds idle slots in release order. Take from the front, return
// to the back; remove is O(1) through the slot's list element.
type idleList struct {
	l list.List
}

func (il *idleList) push(pc *pooledConn) {
	pc.idleElem = il.l.PushBack(pc)
}

func (il *idleList) pop() *pooledConn {
	e := il.l.Front()
	if e == nil {
		return nil
	}
	pc := il.l.Remove(e).(*pooledConn)
	pc.idleElem = nil
	return pc
}

func (il *idleList) remove(pc *pooledConn) bool {
	if pc.idleElem == nil {
		return false
	}
	il.l.Remove(pc.idleElem)
	pc.idleElem = nil
	return true
}

func (il *idleList) len() int {
	return il.l.Len()
}

func (il *idleList) snapshot() []*pooledConn {
	out := make([]*pooledConn, 0, il.l.Len())
	for e := il.l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(*pooledConn))
	}
	return out
}

func (il *idleList) drain() []*pooledConn {
	out := il.snapshot()
	for _, pc := range out {
		pc.idleElem = nil
	}
	il.l.Init()
	return out
}
