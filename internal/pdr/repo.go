// Package pdr is the BMC side PDR repository: an ordered store of encoded
// records keyed by record handle.
package pdr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/smccarney/pldm/pkg/pldm"
)

// ErrNotFound is returned by Get for an unknown record handle.
var ErrNotFound = errors.New("pdr: record not found")

// Record is one stored PDR.
type Record struct {
	Handle         uint32
	Type           uint8
	Data           []byte
	Remote         bool
	TerminusHandle uint16
}

// Repo stores PDRs in ascending record handle order. It is not safe for
// concurrent use.
type Repo struct {
	records    []*Record
	byHandle   map[uint32]*Record
	lastHandle uint32
}

// NewRepo returns an empty repository.
func NewRepo() *Repo {
	return &Repo{byHandle: make(map[uint32]*Record)}
}

// Add stores an encoded PDR. A zero handle assigns the next free one; the
// record header is rewritten to carry the stored handle. Adding a handle
// that already exists replaces that record.
func (r *Repo) Add(data []byte, handle uint32, remote bool, terminusHandle uint16) (uint32, error) {
	h, err := pldm.DecodePDRHeader(data)
	if err != nil {
		return 0, fmt.Errorf("invalid pdr: %w", err)
	}
	if handle == 0 {
		handle = r.lastHandle + 1
	}
	rec := &Record{
		Handle:         handle,
		Type:           h.Type,
		Data:           append([]byte(nil), data...),
		Remote:         remote,
		TerminusHandle: terminusHandle,
	}
	_ = pldm.SetRecordHandle(rec.Data, handle)

	if old, ok := r.byHandle[handle]; ok {
		*old = *rec
		return handle, nil
	}
	r.byHandle[handle] = rec
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].Handle > handle })
	r.records = append(r.records, nil)
	copy(r.records[i+1:], r.records[i:])
	r.records[i] = rec
	if handle > r.lastHandle {
		r.lastHandle = handle
	}
	return handle, nil
}

// Get returns the record with the given handle.
func (r *Repo) Get(handle uint32) (Record, error) {
	rec, ok := r.byHandle[handle]
	if !ok {
		return Record{}, fmt.Errorf("handle %d: %w", handle, ErrNotFound)
	}
	return *rec, nil
}

// First returns the lowest handle, or 0 for an empty repository.
func (r *Repo) First() uint32 {
	if len(r.records) == 0 {
		return 0
	}
	return r.records[0].Handle
}

// Next returns the handle following handle, or 0 at the end.
func (r *Repo) Next(handle uint32) uint32 {
	i := sort.Search(len(r.records), func(i int) bool { return r.records[i].Handle > handle })
	if i == len(r.records) {
		return 0
	}
	return r.records[i].Handle
}

// FindByType returns all records of the given type in handle order.
func (r *Repo) FindByType(pdrType uint8) []Record {
	var out []Record
	for _, rec := range r.records {
		if rec.Type == pdrType {
			out = append(out, *rec)
		}
	}
	return out
}

// RemoveRemote drops every record that came from a remote terminus and
// returns how many were removed.
func (r *Repo) RemoveRemote() int {
	kept := r.records[:0]
	removed := 0
	for _, rec := range r.records {
		if rec.Remote {
			delete(r.byHandle, rec.Handle)
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	for i := len(kept); i < len(r.records); i++ {
		r.records[i] = nil
	}
	r.records = kept
	r.lastHandle = 0
	if n := len(kept); n > 0 {
		r.lastHandle = kept[n-1].Handle
	}
	return removed
}

// Len returns the number of stored records.
func (r *Repo) Len() int { return len(r.records) }

// Records returns a snapshot of all records in handle order.
func (r *Repo) Records() []Record {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, *rec)
	}
	return out
}
