package index

import (
	"encoding/binary"

	"github.com/stonebolt/stonebolt/pkg/storage"
)

// nodeHeaderSize is the B+-tree node header: page_id, is_leaf, num_keys,
// next_page_id, prev_page_id, parent_page_id.
const nodeHeaderSize = 20

// keySize is the width of a single u32 key.
const keySize = 4

// valueSize is the width of a leaf RecordId value: {PageID: u32, SlotID: u16}.
const valueSize = 6

// childSize is the width of an internal node's child PageId.
const childSize = 4

// order is the B+-tree order: the maximum number of keys held in one node.
const order = 128

// invalidNodePageID is the on-page sentinel for "no page" within node
// headers, distinct from storage.InvalidPageID only in that it is the
// literal 0xFFFF_FFFF spec.md names for this layout.
const invalidNodePageID uint32 = 0xFFFF_FFFF

// node is a view over a page buffer laid out per spec.md §4.6/§6: a 20-byte
// header, a dense array of num_keys u32 keys, then either a dense array of
// RecordId values (leaf) or num_keys+1 child PageIds (internal). It carries
// no disk or pool awareness of its own; callers bind it to a guard's buffer.
type node struct {
	buf *storage.PageBuf
}

func bindNode(buf *storage.PageBuf) *node {
	return &node{buf: buf}
}

// initLeafNode formats a fresh page as an empty leaf node.
func initLeafNode(buf *storage.PageBuf, id storage.PageID) *node {
	n := &node{buf: buf}
	n.setPageID(id)
	n.setIsLeaf(true)
	n.setNumKeys(0)
	n.setNextPageID(storage.InvalidPageID)
	n.setPrevPageID(storage.InvalidPageID)
	n.setParentPageID(storage.InvalidPageID)
	return n
}

// initInternalNode formats a fresh page as an empty internal node.
func initInternalNode(buf *storage.PageBuf, id storage.PageID) *node {
	n := &node{buf: buf}
	n.setPageID(id)
	n.setIsLeaf(false)
	n.setNumKeys(0)
	n.setNextPageID(storage.InvalidPageID)
	n.setPrevPageID(storage.InvalidPageID)
	n.setParentPageID(storage.InvalidPageID)
	return n
}

func (n *node) PageID() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(n.buf[0:4]))
}
func (n *node) setPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.buf[0:4], uint32(id))
}

func (n *node) IsLeaf() bool {
	return n.buf[4] != 0
}
func (n *node) setIsLeaf(v bool) {
	if v {
		n.buf[4] = 1
	} else {
		n.buf[4] = 0
	}
}

func (n *node) NumKeys() int {
	return int(binary.LittleEndian.Uint16(n.buf[5:7]))
}
func (n *node) setNumKeys(v int) {
	binary.LittleEndian.PutUint16(n.buf[5:7], uint16(v))
}

func (n *node) NextPageID() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(n.buf[7:11]))
}
func (n *node) setNextPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.buf[7:11], uint32(id))
}

func (n *node) PrevPageID() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(n.buf[11:15]))
}
func (n *node) setPrevPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.buf[11:15], uint32(id))
}

func (n *node) ParentPageID() storage.PageID {
	return storage.PageID(binary.LittleEndian.Uint32(n.buf[15:19]))
}
func (n *node) setParentPageID(id storage.PageID) {
	binary.LittleEndian.PutUint32(n.buf[15:19], uint32(id))
}

// keyOffset returns where key i lives in the buffer.
func (n *node) keyOffset(i int) int {
	return nodeHeaderSize + i*keySize
}

func (n *node) keysEnd() int {
	return n.keyOffset(n.NumKeys())
}

func (n *node) KeyAt(i int) uint32 {
	o := n.keyOffset(i)
	return binary.LittleEndian.Uint32(n.buf[o : o+4])
}
func (n *node) setKeyAt(i int, key uint32) {
	o := n.keyOffset(i)
	binary.LittleEndian.PutUint32(n.buf[o:o+4], key)
}

// valueOffset returns where leaf value i lives, just past the key array.
func (n *node) valueOffset(i int) int {
	return n.keysEnd() + i*valueSize
}

func (n *node) ValueAt(i int) storage.RecordID {
	o := n.valueOffset(i)
	return storage.RecordID{
		PageID: storage.PageID(binary.LittleEndian.Uint32(n.buf[o : o+4])),
		SlotID: storage.SlotID(binary.LittleEndian.Uint16(n.buf[o+4 : o+6])),
	}
}
func (n *node) setValueAt(i int, rid storage.RecordID) {
	o := n.valueOffset(i)
	binary.LittleEndian.PutUint32(n.buf[o:o+4], uint32(rid.PageID))
	binary.LittleEndian.PutUint16(n.buf[o+4:o+6], uint16(rid.SlotID))
}

// childOffset returns where child i lives, just past the key array. An
// internal node with numKeys keys has numKeys+1 children.
func (n *node) childOffset(i int) int {
	return n.keysEnd() + i*childSize
}

func (n *node) ChildAt(i int) storage.PageID {
	o := n.childOffset(i)
	return storage.PageID(binary.LittleEndian.Uint32(n.buf[o : o+4]))
}
func (n *node) setChildAt(i int, id storage.PageID) {
	o := n.childOffset(i)
	binary.LittleEndian.PutUint32(n.buf[o:o+4], uint32(id))
}

// insertLeafEntryAt shifts keys/values at and after i right by one slot and
// writes (key, rid) into the opened gap. NumKeys() is bumped by this call.
// Insert also calls it on a leaf already holding order keys, leaving
// order+1 keys until the leaf is split.
func (n *node) insertLeafEntryAt(i int, key uint32, rid storage.RecordID) {
	num := n.NumKeys()
	for j := num; j > i; j-- {
		n.setKeyAt(j, n.KeyAt(j-1))
		n.setValueAt(j, n.ValueAt(j-1))
	}
	n.setKeyAt(i, key)
	n.setValueAt(i, rid)
	n.setNumKeys(num + 1)
}

// insertInternalEntryAt inserts key at index i and child at index i+1,
// shifting existing keys/children right. NumKeys() is bumped by this call.
// insertIntoParent also calls it on a node already holding order keys,
// leaving order+1 keys until the node is split.
func (n *node) insertInternalEntryAt(i int, key uint32, rightChild storage.PageID) {
	num := n.NumKeys()
	for j := num; j > i; j-- {
		n.setKeyAt(j, n.KeyAt(j-1))
	}
	n.setKeyAt(i, key)
	for j := num + 1; j > i+1; j-- {
		n.setChildAt(j, n.ChildAt(j-1))
	}
	n.setChildAt(i+1, rightChild)
	n.setNumKeys(num + 1)
}

// searchKey returns the first index p with KeyAt(p) >= key via binary
// search, and num_keys if no such index exists.
func (n *node) searchKey(key uint32) int {
	lo, hi := 0, n.NumKeys()
	for lo < hi {
		mid := (lo + hi) / 2
		if n.KeyAt(mid) < key {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndexFor returns the child slot to descend into for key, per
// spec.md §4.6.1: p+1 if keys[p]==key, else p.
func (n *node) childIndexFor(key uint32) int {
	p := n.searchKey(key)
	if p < n.NumKeys() && n.KeyAt(p) == key {
		return p + 1
	}
	return p
}
