package visual

import (
	"fmt"

	"github.com/Faultbox/worldview/internal/gpu"
	"github.com/Faultbox/worldview/pkg/math"
)

// MatrixStorage allocates ranges of skinning matrices. Each heap keeps one
// CPU copy and one GPU buffer per frame in flight; Commit brings the frame's
// buffer up to date.
type MatrixStorage struct {
	dev     gpu.Device
	recycle func(gpu.Resource)
	heaps   [gpu.HeapCount]*matrixHeap
}

type matrixRange struct {
	begin, size int
}

// liveRange is an allocated range keyed by its offset. gen tells a range
// apart from earlier ones handed out at the same offset.
type liveRange struct {
	size int
	gen  uint32
}

type matrixHeap struct {
	heap    gpu.BufferHeap
	data    []math.Mat4
	free    []matrixRange
	live    map[int]liveRange
	nextGen uint32
	ssbo    []gpu.Buffer
	dirty   []bool
}

// NewMatrixStorage creates storage for framesInFlight frame slots. Buffers
// replaced by Commit are handed to recycle.
func NewMatrixStorage(dev gpu.Device, framesInFlight int, recycle func(gpu.Resource)) *MatrixStorage {
	s := &MatrixStorage{dev: dev, recycle: recycle}
	for h := range s.heaps {
		s.heaps[h] = &matrixHeap{
			heap:  gpu.BufferHeap(h),
			live:  make(map[int]liveRange),
			ssbo:  make([]gpu.Buffer, framesInFlight),
			dirty: make([]bool, framesInFlight),
		}
	}
	return s
}

// MatrixID is a range of matrices. The zero value is empty. A copy kept
// after the range is freed stays invalid even when the same range is
// allocated again.
type MatrixID struct {
	heap   *matrixHeap
	offset int
	size   int
	gen    uint32
}

// Alloc reserves boneCnt matrices initialized to identity.
func (s *MatrixStorage) Alloc(heap gpu.BufferHeap, boneCnt int) MatrixID {
	if boneCnt <= 0 {
		return MatrixID{}
	}
	h := s.heaps[heap]
	offset := h.take(boneCnt)
	h.nextGen++
	h.live[offset] = liveRange{size: boneCnt, gen: h.nextGen}
	for i := offset; i < offset+boneCnt; i++ {
		h.data[i] = math.Identity()
	}
	h.touch()
	return MatrixID{heap: h, offset: offset, size: boneCnt, gen: h.nextGen}
}

// SSBO returns the buffer holding heap's matrices for frame slot fId. It is
// nil until the first Commit of that slot.
func (s *MatrixStorage) SSBO(heap gpu.BufferHeap, fId uint8) gpu.Buffer {
	return s.heaps[heap].ssbo[fId]
}

// Commit uploads changed matrices for frame slot fId, growing the buffer
// when needed. It reports whether any heap's buffer was replaced, which
// invalidates descriptor sets bound to the old one.
func (s *MatrixStorage) Commit(fId uint8) (bool, error) {
	changed := false
	for _, h := range s.heaps {
		need := max(len(h.data), 1) * math.Mat4Size
		cur := h.ssbo[fId]
		if cur == nil || cur.Size() < need {
			buf, err := s.dev.NewBuffer(gpu.UsageStorage, h.heap, grow(need))
			if err != nil {
				return changed, fmt.Errorf("matrix storage: %s heap: %w", h.heap, err)
			}
			if cur != nil {
				s.recycle(cur)
			}
			h.ssbo[fId] = buf
			h.dirty[fId] = true
			changed = true
		}
		if !h.dirty[fId] || len(h.data) == 0 {
			continue
		}
		if err := h.ssbo[fId].Update(0, math.Bytes(h.data)); err != nil {
			return changed, fmt.Errorf("matrix storage: upload %s heap: %w", h.heap, err)
		}
		h.dirty[fId] = false
	}
	return changed, nil
}

// Len returns the number of matrices reserved in heap, including free ranges.
func (s *MatrixStorage) Len(heap gpu.BufferHeap) int {
	return len(s.heaps[heap].data)
}

// take returns the offset of a free range of n matrices, first fit.
func (h *matrixHeap) take(n int) int {
	for i, r := range h.free {
		if r.size < n {
			continue
		}
		offset := r.begin
		if r.size == n {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = matrixRange{begin: r.begin + n, size: r.size - n}
		}
		return offset
	}
	offset := len(h.data)
	h.data = append(h.data, make([]math.Mat4, n)...)
	return offset
}

// give returns a range to the free list, merging neighbours.
func (h *matrixHeap) give(r matrixRange) {
	at := len(h.free)
	for i, f := range h.free {
		if f.begin > r.begin {
			at = i
			break
		}
	}
	h.free = append(h.free, matrixRange{})
	copy(h.free[at+1:], h.free[at:])
	h.free[at] = r

	if at+1 < len(h.free) && h.free[at].begin+h.free[at].size == h.free[at+1].begin {
		h.free[at].size += h.free[at+1].size
		h.free = append(h.free[:at+1], h.free[at+2:]...)
	}
	if at > 0 && h.free[at-1].begin+h.free[at-1].size == h.free[at].begin {
		h.free[at-1].size += h.free[at].size
		h.free = append(h.free[:at], h.free[at+1:]...)
	}
}

func (h *matrixHeap) touch() {
	for i := range h.dirty {
		h.dirty[i] = true
	}
}

func grow(n int) int {
	c := 4096
	for c < n {
		c *= 2
	}
	return c
}

// Empty reports whether the id references no matrices.
func (id MatrixID) Empty() bool {
	return id.heap == nil
}

// Offset returns the index of the first matrix, which shaders add to the
// per-vertex bone index.
func (id MatrixID) Offset() int {
	return id.offset
}

// Size returns the number of matrices.
func (id MatrixID) Size() int {
	return id.size
}

// Heap returns the heap the range lives in.
func (id MatrixID) Heap() gpu.BufferHeap {
	if id.heap == nil {
		return gpu.HeapUpload
	}
	return id.heap.heap
}

// Set copies mats into the range; extra matrices are ignored.
func (id MatrixID) Set(mats []math.Mat4) {
	if !id.valid() {
		return
	}
	n := min(len(mats), id.size)
	copy(id.heap.data[id.offset:id.offset+n], mats[:n])
	id.heap.touch()
}

// SetAt sets matrix i of the range.
func (id MatrixID) SetAt(i int, m math.Mat4) {
	if !id.valid() || i < 0 || i >= id.size {
		return
	}
	id.heap.data[id.offset+i] = m
	id.heap.touch()
}

// Free returns the range to its heap and clears the id. Freeing an empty or
// already freed id does nothing.
func (id *MatrixID) Free() {
	if !id.valid() {
		*id = MatrixID{}
		return
	}
	delete(id.heap.live, id.offset)
	id.heap.give(matrixRange{begin: id.offset, size: id.size})
	*id = MatrixID{}
}

func (id MatrixID) valid() bool {
	if id.heap == nil {
		return false
	}
	r, ok := id.heap.live[id.offset]
	return ok && r.size == id.size && r.gen == id.gen
}
