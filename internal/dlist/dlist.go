// Package dlist ports the intrusive doubly linked list used pervasively
// by the original ratbox-services (include/balloc.h's dlink_node,
// src/balloc.c's block allocator) to a slab of nodes addressed by
// index instead of raw pointers. A node can be unlinked in O(1) given
// only its handle, and the same element can sit on two independent
// lists at once (e.g. a membership record is simultaneously on a
// user's channel list and a channel's member list) by allocating it a
// node on each list.
package dlist

// Handle addresses a node within a List. The zero Handle is invalid.
type Handle int

const nilHandle Handle = -1

type node[T any] struct {
	value      T
	prev, next Handle
	inUse      bool
}

// List is a slab-backed doubly linked list. The zero value is ready to
// use. Handles stay valid across Remove of other elements; freed slots
// are recycled via an internal free list so long-running daemons don't
// grow the slab forever.
type List[T any] struct {
	nodes     []node[T]
	free      Handle
	head, tail Handle
	length    int
}

func (l *List[T]) init() {
	if l.nodes == nil {
		l.head, l.tail, l.free = nilHandle, nilHandle, nilHandle
	}
}

// Len returns the number of elements currently linked.
func (l *List[T]) Len() int { return l.length }

// Front returns the handle of the first element, or false if empty.
func (l *List[T]) Front() (Handle, bool) {
	l.init()
	if l.head == nilHandle {
		return 0, false
	}
	return l.head, true
}

// Next returns the handle following h.
func (l *List[T]) Next(h Handle) (Handle, bool) {
	n := l.nodes[h].next
	if n == nilHandle {
		return 0, false
	}
	return n, true
}

// Value returns the element stored at h.
func (l *List[T]) Value(h Handle) T { return l.nodes[h].value }

// Set overwrites the element stored at h.
func (l *List[T]) Set(h Handle, v T) { l.nodes[h].value = v }

// PushBack appends v and returns its handle for O(1) later removal.
func (l *List[T]) PushBack(v T) Handle {
	l.init()
	h := l.alloc(v)
	n := &l.nodes[h]
	n.prev = l.tail
	n.next = nilHandle
	if l.tail != nilHandle {
		l.nodes[l.tail].next = h
	} else {
		l.head = h
	}
	l.tail = h
	l.length++
	return h
}

// PushFront prepends v.
func (l *List[T]) PushFront(v T) Handle {
	l.init()
	h := l.alloc(v)
	n := &l.nodes[h]
	n.next = l.head
	n.prev = nilHandle
	if l.head != nilHandle {
		l.nodes[l.head].prev = h
	} else {
		l.tail = h
	}
	l.head = h
	l.length++
	return h
}

func (l *List[T]) alloc(v T) Handle {
	if l.free != nilHandle {
		h := l.free
		n := &l.nodes[h]
		l.free = n.next
		n.value = v
		n.inUse = true
		return h
	}
	l.nodes = append(l.nodes, node[T]{value: v, inUse: true})
	return Handle(len(l.nodes) - 1)
}

// Remove unlinks h in O(1). h must belong to this list and currently
// be linked; removing an already-removed handle is a no-op.
func (l *List[T]) Remove(h Handle) {
	n := &l.nodes[h]
	if !n.inUse {
		return
	}
	if n.prev != nilHandle {
		l.nodes[n.prev].next = n.next
	} else {
		l.head = n.next
	}
	if n.next != nilHandle {
		l.nodes[n.next].prev = n.prev
	} else {
		l.tail = n.prev
	}
	n.inUse = false
	var zero T
	n.value = zero
	n.next = l.free
	l.free = h
	l.length--
}

// Each walks the list front-to-back, stopping early if fn returns false.
func (l *List[T]) Each(fn func(h Handle, v T) bool) {
	for h, ok := l.Front(); ok; h, ok = l.Next(h) {
		if !fn(h, l.Value(h)) {
			return
		}
	}
}

// Slice materializes the list into a plain slice, in order. Intended
// for call sites that need a snapshot to range over while mutating
// the list (e.g. kick-building while walking members).
func (l *List[T]) Slice() []T {
	out := make([]T, 0, l.length)
	l.Each(func(_ Handle, v T) bool { out = append(out, v); return true })
	return out
}
