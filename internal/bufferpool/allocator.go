package bufferpool

import (
	"sync"

	"github.com/relkernel/storagecore/internal/diskio"
)

// allocator hands out page-ids sharded across numInstances parallel pools.
// Instance k issues {k, k+numInstances, k+2*numInstances, ...}, so every
// id it ever returns satisfies id mod numInstances == instanceIndex.
// Freed ids are not reused; next is monotonically increasing, grounded on
// BufferPoolManagerInstance::AllocatePage.
type allocator struct {
	mu            sync.Mutex
	numInstances  int32
	instanceIndex int32
	counter       int32
}

func newAllocator(numInstances, instanceIndex int32) *allocator {
	if numInstances <= 0 {
		numInstances = 1
	}
	return &allocator{
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
	}
}

func (a *allocator) next() diskio.PageID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.instanceIndex + a.counter*a.numInstances
	a.counter++
	return diskio.PageID(id)
}

// free records that pageID is no longer in use. This implementation never
// reclaims ids for reuse, so free is a no-op kept for interface symmetry
// with DeletePage.
func (a *allocator) free(pageID diskio.PageID) {}

// owns reports whether pageID belongs to this allocator's shard, grounded
// on BufferPoolManagerInstance::ValidatePageId.
func (a *allocator) owns(pageID diskio.PageID) bool {
	return int32(pageID)%a.numInstances == a.instanceIndex
}
