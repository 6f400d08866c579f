// ════════════════════════════════════════════════════════════════════════════════════════════════
// Intrusive Doubly-Linked List
// ────────────────────────────────────────────────────────────────────────────────────────────────
// Project: Fiber Runtime Core
// Component: Zero-Allocation Wait-Queue Primitive
//
// Description:
//   Sentinel-headed, doubly-linked, intrusive list. Nodes are embedded by value in the
//   objects that use them (a FiberContext's lock-wait hook, a SyscallRequest's
//   pending-requests hook) so linking and unlinking never allocates.
//
// Grounded on: original_source/src/intrusive_list.h (Arachne's C++ intrusive_list_base_hook).
// Go lacks raw "container_of" pointer arithmetic, so Node carries an explicit owner
// pointer set once at embed time instead of being cast back from its own address.
// ════════════════════════════════════════════════════════════════════════════════════════════════

package intrusive

// Node is an embeddable list hook. Zero value is unlinked.
type Node[T any] struct {
	next  *Node[T]
	prev  *Node[T]
	owner *T
}

// Init binds the hook to its owning object. Must be called once, before first use,
// typically in the owner's constructor.
func (n *Node[T]) Init(owner *T) {
	n.owner = owner
}

// Linked reports whether the node is currently part of a list.
func (n *Node[T]) Linked() bool {
	return n.next != nil
}

// Unlink removes the node from whatever list it belongs to. O(1). Safe to call on an
// already-unlinked node.
func (n *Node[T]) Unlink() {
	if n.next == nil {
		return
	}
	n.prev.next = n.next
	n.next.prev = n.prev
	n.next, n.prev = nil, nil
}

// List is a sentinel-headed intrusive doubly-linked list of *Node[T].
type List[T any] struct {
	root Node[T]
}

// New returns an empty list ready for use.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// Empty reports whether the list has no linked nodes.
func (l *List[T]) Empty() bool {
	return l.root.next == &l.root
}

// PushBack links n at the tail of the list (FIFO order when drained with PopFront).
func (l *List[T]) PushBack(n *Node[T]) {
	prev := l.root.prev
	n.prev = prev
	n.next = &l.root
	prev.next = n
	l.root.prev = n
}

// PushFront links n at the head of the list.
func (l *List[T]) PushFront(n *Node[T]) {
	next := l.root.next
	n.next = next
	n.prev = &l.root
	next.prev = n
	l.root.next = n
}

// Front returns the owner of the head node, or nil if the list is empty.
func (l *List[T]) Front() *T {
	if l.Empty() {
		return nil
	}
	return l.root.next.owner
}

// PopFront unlinks and returns the owner of the head node, or nil if empty.
func (l *List[T]) PopFront() *T {
	if l.Empty() {
		return nil
	}
	n := l.root.next
	n.Unlink()
	return n.owner
}

// Remove unlinks n if it is part of this (or any) list. O(1).
func (l *List[T]) Remove(n *Node[T]) {
	n.Unlink()
}

// Each calls fn for every element currently linked, head to tail. fn must not mutate
// the list structure (unlink/link nodes other than via Remove on the current node).
func (l *List[T]) Each(fn func(*T)) {
	for n := l.root.next; n != &l.root; {
		next := n.next
		fn(n.owner)
		n = next
	}
}

// Len counts the linked elements. O(n); intended for diagnostics
// (num_waiters), not the hot path.
func (l *List[T]) Len() int {
	n := 0
	for cur := l.root.next; cur != &l.root; cur = cur.next {
		n++
	}
	return n
}
