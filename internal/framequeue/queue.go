// Package framequeue holds the per-requester queues that feed the precache loop.
package framequeue

import (
	"time"

	"github.com/google/uuid"

	"github.com/hszk-dev/mediacache/internal/domain/model"
)

// Request is a queued frame fetch.
type Request struct {
	Frame      model.FrameIdentity
	RequiredBy time.Time
	Requester  uuid.UUID

	seq uint64
}

// InFlight counts outstanding precache reads per requester.
type InFlight map[uuid.UUID]int

// Start records a new outstanding read for requester.
func (f InFlight) Start(requester uuid.UUID) {
	f[requester]++
}

// Done releases one outstanding read. The entry is removed when the last
// read completes.
func (f InFlight) Done(requester uuid.UUID) {
	n, ok := f[requester]
	if !ok {
		return
	}
	if n <= 1 {
		delete(f, requester)
		return
	}
	f[requester] = n - 1
}

// Queue is an ordered, cancelable queue of frame requests. Entries keep
// insertion order and can be dropped per requester.
//
// A Queue is not safe for concurrent use; its owner serializes access.
type Queue struct {
	pending map[uuid.UUID][]Request
	nextSeq uint64
	size    int
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{pending: make(map[uuid.UUID][]Request)}
}

// Add appends a single request.
func (q *Queue) Add(frame model.FrameIdentity, requiredBy time.Time, requester uuid.UUID) {
	q.pending[requester] = append(q.pending[requester], Request{
		Frame:      frame,
		RequiredBy: requiredBy,
		Requester:  requester,
		seq:        q.nextSeq,
	})
	q.nextSeq++
	q.size++
}

// AddMany appends frames in the order given. Callers pass frames already
// sorted by the time they are needed.
func (q *Queue) AddMany(frames []model.TimedFrame, requester uuid.UUID) {
	for _, f := range frames {
		q.Add(f.Frame, f.RequiredBy, requester)
	}
}

// Clear drops every queued request for requester and returns how many were
// dropped. Clearing an unknown requester is a no-op.
func (q *Queue) Clear(requester uuid.UUID) int {
	n := len(q.pending[requester])
	delete(q.pending, requester)
	q.size -= n
	return n
}

// Pop removes and returns the oldest request whose requester has fewer than
// maxInFlight reads outstanding. Requests from saturated requesters are
// skipped but kept. Returns false when nothing can be popped.
func (q *Queue) Pop(inFlight InFlight, maxInFlight int) (Request, bool) {
	var (
		best  uuid.UUID
		found bool
		seq   uint64
	)
	for requester, reqs := range q.pending {
		if inFlight[requester] >= maxInFlight {
			continue
		}
		if !found || reqs[0].seq < seq {
			best, seq, found = requester, reqs[0].seq, true
		}
	}
	if !found {
		return Request{}, false
	}

	reqs := q.pending[best]
	r := reqs[0]
	if len(reqs) == 1 {
		delete(q.pending, best)
	} else {
		q.pending[best] = reqs[1:]
	}
	q.size--
	return r, true
}

// Len returns the total number of queued requests.
func (q *Queue) Len() int {
	return q.size
}

// LenFor returns the number of requests queued for requester.
func (q *Queue) LenFor(requester uuid.UUID) int {
	return len(q.pending[requester])
}
