// Package index implements the B+-tree access method: an ordered u32-key to
// RecordId index built purely on pkg/storage's page guards. No code here
// touches the disk manager, scheduler, or files directly.
package index

import (
	"sync"

	"go.uber.org/zap"

	"github.com/stonebolt/stonebolt/pkg/storage"
)

// BTree is a classic order-m B+-tree over u32 keys valued by RecordId.
// Search and range scan descend with read guards, releasing each parent as
// soon as the child is pinned. Insert descends with write guards, dropping
// ancestors whose node is "safe" (num_keys < order, so it cannot split)
// before pinning the next child, and falls back to holding every ancestor
// guard along a path where every node is already full.
type BTree struct {
	bp *storage.BufferPool

	mu   sync.RWMutex
	root storage.PageID

	log *zap.Logger
}

// NewBTree allocates a fresh root leaf page and returns an empty tree.
func NewBTree(bp *storage.BufferPool, log *zap.Logger) (*BTree, error) {
	if log == nil {
		log = zap.NewNop()
	}
	pid, err := bp.NewPage()
	if err != nil {
		return nil, err
	}
	g, err := bp.FetchPageWrite(pid)
	if err != nil {
		return nil, err
	}
	initLeafNode(g.DataMut(), pid)
	g.Release()
	return &BTree{bp: bp, root: pid, log: log}, nil
}

// OpenBTree wraps an existing tree whose root page is already formatted.
func OpenBTree(bp *storage.BufferPool, root storage.PageID, log *zap.Logger) *BTree {
	if log == nil {
		log = zap.NewNop()
	}
	return &BTree{bp: bp, root: root, log: log}
}

// RootPageID returns the tree's current root page, for persisting in a
// catalog entry.
func (t *BTree) RootPageID() storage.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

func (t *BTree) currentRoot() storage.PageID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.root
}

// Search returns the value stored under key, or ErrKeyNotFound.
func (t *BTree) Search(key uint32) (storage.RecordID, error) {
	guard, err := t.descendToLeafRead(key)
	if err != nil {
		return storage.RecordID{}, err
	}
	defer guard.Release()

	n := bindNode(guard.Data())
	pos := n.searchKey(key)
	if pos < n.NumKeys() && n.KeyAt(pos) == key {
		return n.ValueAt(pos), nil
	}
	return storage.RecordID{}, ErrKeyNotFound
}

// RangeScan returns the values of all keys with start <= key <= end, in
// ascending key order, by descending to the leaf holding start and walking
// the leaf's horizontal next-pointer list. Only the RecordID values are
// returned; the keys themselves are not.
func (t *BTree) RangeScan(start, end uint32) ([]storage.RecordID, error) {
	if end < start {
		return nil, nil
	}

	guard, err := t.descendToLeafRead(start)
	if err != nil {
		return nil, err
	}

	var out []storage.RecordID
	for {
		n := bindNode(guard.Data())
		pos := n.searchKey(start)
		stop := false
		for i := pos; i < n.NumKeys(); i++ {
			k := n.KeyAt(i)
			if k > end {
				stop = true
				break
			}
			out = append(out, n.ValueAt(i))
		}
		next := n.NextPageID()
		guard.Release()
		if stop || !next.IsValid() {
			return out, nil
		}
		guard, err = t.bp.FetchPageRead(next)
		if err != nil {
			return out, err
		}
	}
}

// descendToLeafRead walks from the root to the leaf that would hold key,
// pinning each child before releasing its parent, and returns the leaf's
// read guard held.
func (t *BTree) descendToLeafRead(key uint32) (*storage.ReadPageGuard, error) {
	pid := t.currentRoot()
	var guard *storage.ReadPageGuard
	for {
		g, err := t.bp.FetchPageRead(pid)
		if err != nil {
			if guard != nil {
				guard.Release()
			}
			return nil, err
		}
		if guard != nil {
			guard.Release()
		}
		guard = g
		n := bindNode(guard.Data())
		if n.IsLeaf() {
			return guard, nil
		}
		pid = n.ChildAt(n.childIndexFor(key))
	}
}

// Insert adds (key, rid) to the tree. Returns ErrDuplicateKey if key is
// already present.
func (t *BTree) Insert(key uint32, rid storage.RecordID) error {
	rootID := t.currentRoot()

	guards := []*storage.WritePageGuard{}

	pid := rootID
	for {
		g, err := t.bp.FetchPageWrite(pid)
		if err != nil {
			for _, anc := range guards {
				anc.Release()
			}
			return err
		}
		guards = append(guards, g)
		n := bindNode(g.Data())
		if n.IsLeaf() {
			break
		}
		if n.NumKeys() < order {
			// This node cannot split from this insert; every ancestor
			// holding it safe can be released now.
			for _, anc := range guards[:len(guards)-1] {
				anc.Release()
			}
			guards = guards[len(guards)-1:]
		}
		pid = n.ChildAt(n.childIndexFor(key))
	}

	leafGuard := guards[len(guards)-1]
	ancestors := guards[:len(guards)-1]
	leaf := bindNode(leafGuard.Data())
	pos := leaf.searchKey(key)
	if pos < leaf.NumKeys() && leaf.KeyAt(pos) == key {
		leafGuard.Release()
		for _, anc := range ancestors {
			anc.Release()
		}
		return ErrDuplicateKey
	}

	leaf = bindNode(leafGuard.DataMut())
	leaf.insertLeafEntryAt(pos, key, rid)

	if leaf.NumKeys() <= order {
		leafGuard.Release()
		for _, anc := range ancestors {
			anc.Release()
		}
		return nil
	}

	leftID := leaf.PageID()
	t.log.Debug("splitting leaf", zap.Stringer("page", leftID), zap.Uint32("key", key))
	rightID, rightGuard, err := t.allocNode(false)
	if err != nil {
		leafGuard.Release()
		for _, anc := range ancestors {
			anc.Release()
		}
		return err
	}
	right := initLeafNode(rightGuard.DataMut(), rightID)

	mid := leaf.NumKeys() / 2
	for i := mid; i < leaf.NumKeys(); i++ {
		right.insertLeafEntryAt(right.NumKeys(), leaf.KeyAt(i), leaf.ValueAt(i))
	}
	leaf.setNumKeys(mid)

	oldNext := leaf.NextPageID()
	right.setNextPageID(oldNext)
	right.setPrevPageID(leftID)
	leaf.setNextPageID(rightID)
	if oldNext.IsValid() {
		if err := t.setPrevPointer(oldNext, rightID); err != nil {
			rightGuard.Release()
			leafGuard.Release()
			for _, anc := range ancestors {
				anc.Release()
			}
			return err
		}
	}

	separator := right.KeyAt(0)
	rightGuard.Release()
	leafGuard.Release()

	return t.insertIntoParent(ancestors, leftID, separator, rightID)
}

// insertIntoParent links (leftID, separator, rightID) into the parent node
// at the top of ancestors, splitting it (and recursing) if it overflows, or
// creates a new root if ancestors is empty.
func (t *BTree) insertIntoParent(ancestors []*storage.WritePageGuard, leftID storage.PageID, separator uint32, rightID storage.PageID) error {
	if len(ancestors) == 0 {
		newRootID, rootGuard, err := t.allocNode(true)
		if err != nil {
			return err
		}
		root := bindNode(rootGuard.DataMut())
		root.setChildAt(0, leftID)
		root.insertInternalEntryAt(0, separator, rightID)
		rootGuard.Release()

		if err := t.setParentPointer(leftID, newRootID); err != nil {
			return err
		}
		if err := t.setParentPointer(rightID, newRootID); err != nil {
			return err
		}

		t.mu.Lock()
		t.root = newRootID
		t.mu.Unlock()
		t.log.Debug("new root", zap.Stringer("page", newRootID))
		return nil
	}

	parentGuard := ancestors[len(ancestors)-1]
	rest := ancestors[:len(ancestors)-1]

	if err := t.setParentPointer(rightID, parentGuard.PageID()); err != nil {
		for _, anc := range ancestors {
			anc.Release()
		}
		return err
	}

	parent := bindNode(parentGuard.DataMut())
	childIdx := -1
	for i := 0; i <= parent.NumKeys(); i++ {
		if parent.ChildAt(i) == leftID {
			childIdx = i
			break
		}
	}
	if childIdx < 0 {
		parentGuard.Release()
		for _, anc := range rest {
			anc.Release()
		}
		return ErrIndexCorrupted
	}
	parent.insertInternalEntryAt(childIdx, separator, rightID)

	if parent.NumKeys() <= order {
		parentGuard.Release()
		for _, anc := range rest {
			anc.Release()
		}
		return nil
	}

	leftInternalID := parent.PageID()
	newRightID, rightGuard, err := t.allocNode(true)
	if err != nil {
		parentGuard.Release()
		for _, anc := range rest {
			anc.Release()
		}
		return err
	}
	rightNode := bindNode(rightGuard.DataMut())

	mid := parent.NumKeys() / 2
	promote := parent.KeyAt(mid)

	numRightKeys := parent.NumKeys() - mid - 1
	for i := 0; i < numRightKeys; i++ {
		rightNode.setKeyAt(i, parent.KeyAt(mid+1+i))
	}
	for i := 0; i <= numRightKeys; i++ {
		rightNode.setChildAt(i, parent.ChildAt(mid+1+i))
	}
	rightNode.setNumKeys(numRightKeys)
	parent.setNumKeys(mid)

	for i := 0; i <= numRightKeys; i++ {
		if err := t.setParentPointer(rightNode.ChildAt(i), newRightID); err != nil {
			rightGuard.Release()
			parentGuard.Release()
			for _, anc := range rest {
				anc.Release()
			}
			return err
		}
	}

	rightGuard.Release()
	parentGuard.Release()

	return t.insertIntoParent(rest, leftInternalID, promote, newRightID)
}

// allocNode allocates a fresh page and formats it as an empty leaf or
// internal node, returning its id and a held write guard.
func (t *BTree) allocNode(internal bool) (storage.PageID, *storage.WritePageGuard, error) {
	pid, err := t.bp.NewPage()
	if err != nil {
		return 0, nil, err
	}
	g, err := t.bp.FetchPageWrite(pid)
	if err != nil {
		return 0, nil, err
	}
	if internal {
		initInternalNode(g.DataMut(), pid)
	} else {
		initLeafNode(g.DataMut(), pid)
	}
	return pid, g, nil
}

func (t *BTree) setParentPointer(childID, parentID storage.PageID) error {
	g, err := t.bp.FetchPageWrite(childID)
	if err != nil {
		return err
	}
	defer g.Release()
	bindNode(g.DataMut()).setParentPageID(parentID)
	return nil
}

func (t *BTree) setPrevPointer(childID, prevID storage.PageID) error {
	g, err := t.bp.FetchPageWrite(childID)
	if err != nil {
		return err
	}
	defer g.Release()
	bindNode(g.DataMut()).setPrevPageID(prevID)
	return nil
}
