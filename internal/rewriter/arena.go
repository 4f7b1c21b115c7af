package rewriter

import (
	"fmt"

	"github.com/gnolang/classmig/internal/classfile"
)

// nodeID indexes a node in the arena.
type nodeID int32

// none marks the end of the list or the end of the code.
const none nodeID = -1

type node struct {
	ins     *classfile.Instruction
	prev    nodeID
	next    nodeID
	offset  int // offset after layout
	deleted bool
	// forward is the designated successor of a deleted node: branches,
	// handlers and debug ranges that pointed at the node move there.
	forward nodeID
}

// arena is a doubly linked instruction list stored in one slice. Deleting
// a node is O(1) and leaves a forwarding link behind, so offsets of the
// input code can still be resolved once the list has changed.
type arena struct {
	nodes    []node
	head     nodeID
	byOffset map[int]nodeID
	codeLen  int // input code length
	size     int // code length after layout
}

func newArena(list []*classfile.Instruction, codeLen int) *arena {
	a := &arena{
		nodes:    make([]node, len(list)),
		head:     none,
		byOffset: make(map[int]nodeID, len(list)),
		codeLen:  codeLen,
	}
	for i, ins := range list {
		id := nodeID(i)
		a.nodes[i] = node{ins: ins, prev: id - 1, next: id + 1, forward: none}
		a.byOffset[ins.Offset] = id
	}
	if len(list) > 0 {
		a.head = 0
		a.nodes[len(list)-1].next = none
	}
	return a
}

// remove unlinks id and forwards it to its next live neighbour.
func (a *arena) remove(id nodeID) {
	n := &a.nodes[id]
	if n.deleted {
		return
	}
	n.deleted = true
	n.forward = n.next
	if n.prev != none {
		a.nodes[n.prev].next = n.next
	} else {
		a.head = n.next
	}
	if n.next != none {
		a.nodes[n.next].prev = n.prev
	}
}

// resolve follows forwarding links from id to a live node, compressing the
// path on the way back. It returns none when the chain runs off the end.
func (a *arena) resolve(id nodeID) nodeID {
	root := id
	for root != none && a.nodes[root].deleted {
		root = a.nodes[root].forward
	}
	for id != none && a.nodes[id].deleted {
		next := a.nodes[id].forward
		a.nodes[id].forward = root
		id = next
	}
	return root
}

// live returns the surviving instructions in order.
func (a *arena) live() []*classfile.Instruction {
	var list []*classfile.Instruction
	for id := a.head; id != none; id = a.nodes[id].next {
		list = append(list, a.nodes[id].ins)
	}
	return list
}

// layout assigns new offsets to live nodes and rewrites branch targets.
func (a *arena) layout() error {
	at := 0
	for id := a.head; id != none; id = a.nodes[id].next {
		a.nodes[id].offset = at
		at += a.nodes[id].ins.Len(at)
	}
	a.size = at

	for id := a.head; id != none; id = a.nodes[id].next {
		ins := a.nodes[id].ins
		if !ins.IsBranch() {
			continue
		}
		t, err := a.target(ins.Target)
		if err != nil {
			return err
		}
		targets := make([]int, len(ins.Targets))
		for i, old := range ins.Targets {
			if targets[i], err = a.target(old); err != nil {
				return err
			}
		}
		ins.Target, ins.Targets = t, targets
	}
	for id := a.head; id != none; id = a.nodes[id].next {
		a.nodes[id].ins.Offset = a.nodes[id].offset
	}
	return nil
}

// target maps an offset of the input code to the laid out code. The end
// of the input code maps to the end of the new code.
func (a *arena) target(old int) (int, error) {
	if old == a.codeLen {
		return a.size, nil
	}
	id, ok := a.byOffset[old]
	if !ok {
		return 0, fmt.Errorf("offset %d is not an instruction boundary", old)
	}
	id = a.resolve(id)
	if id == none {
		return a.size, nil
	}
	return a.nodes[id].offset, nil
}

// forwarded reports whether the instruction at old was deleted.
func (a *arena) forwarded(old int) bool {
	id, ok := a.byOffset[old]
	return ok && a.nodes[id].deleted
}
