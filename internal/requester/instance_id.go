// Package requester sends PLDM requests to a terminus and matches their
// responses, owning instance ID allocation, timeouts and retries.
package requester

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smccarney/pldm/pkg/pldm"
)

// ErrNoInstanceID is returned when all 32 instance IDs of an endpoint are in use.
var ErrNoInstanceID = errors.New("requester: no free instance id")

// InstanceIDs allocates PLDM instance IDs per MCTP endpoint.
type InstanceIDs struct {
	mu    sync.Mutex
	inUse map[uint8]uint32
	next  map[uint8]uint8
}

// NewInstanceIDs returns an allocator with every ID free.
func NewInstanceIDs() *InstanceIDs {
	return &InstanceIDs{inUse: make(map[uint8]uint32), next: make(map[uint8]uint8)}
}

// Get reserves an instance ID for eid. IDs are handed out round robin so a
// late response to a freed ID is unlikely to match a new request.
func (a *InstanceIDs) Get(eid uint8) (uint8, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	used := a.inUse[eid]
	start := a.next[eid]
	for i := uint8(0); i <= pldm.MaxInstanceID; i++ {
		id := (start + i) & pldm.MaxInstanceID
		if used&(1<<id) == 0 {
			a.inUse[eid] = used | 1<<id
			a.next[eid] = (id + 1) & pldm.MaxInstanceID
			return id, nil
		}
	}
	return 0, fmt.Errorf("eid %d: %w", eid, ErrNoInstanceID)
}

// Free releases an instance ID.
func (a *InstanceIDs) Free(eid, id uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse[eid] &^= 1 << (id & pldm.MaxInstanceID)
}

// InUse returns how many IDs are reserved for eid.
func (a *InstanceIDs) InUse(eid uint8) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for v := a.inUse[eid]; v != 0; v &= v - 1 {
		n++
	}
	return n
}
