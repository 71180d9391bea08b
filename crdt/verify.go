package crdt

import (
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/kevinxiao27/textcrdt/internal/skiplist"
	"github.com/kevinxiao27/textcrdt/ol"
	"github.com/kevinxiao27/textcrdt/util"
)

// Verify walks the whole state and checks that the content index and the
// identity logs agree. It is O(characters) and meant for tests and tooling.
func (s *State) Verify() error {
	runs := s.index.Items()
	total := util.Reduce(runs, func(r ol.Run, n int) int { return n + r.Len() }, 0)
	if total != s.index.Len() {
		return fmt.Errorf("%w: runs sum to %d, index reports %d", ErrInternalConsistency, total, s.index.Len())
	}

	indexed := mapset.NewThreadUnsafeSet[skiplist.Marker]()
	for m, run := range s.index.All() {
		if run.Len() == 0 {
			return fmt.Errorf("%w: empty run %v", ErrInternalConsistency, run)
		}
		if !s.clients.Has(run.Origin.Client) {
			return fmt.Errorf("%w: run %v by unregistered client", ErrInternalConsistency, run)
		}
		indexed.Add(m)
	}

	logged := mapset.NewThreadUnsafeSet[skiplist.Marker]()
	inserted := 0
	for id := 0; id < s.clients.Len(); id++ {
		for addr, m := range s.clients.Ops(ol.ClientID(id)) {
			run, err := s.index.Lookup(m)
			if err != nil {
				return fmt.Errorf("%w: %v: %w", ErrInternalConsistency, addr, err)
			}
			if !run.Contains(addr) {
				return fmt.Errorf("%w: %v points at %v", ErrInternalConsistency, addr, run)
			}
			logged.Add(m)
			inserted++
		}
	}

	// insert-only: every logged character is live in the document
	if inserted != total {
		return fmt.Errorf("%w: %d characters logged, %d in the document", ErrInternalConsistency, inserted, total)
	}
	if !logged.Equal(indexed) {
		return fmt.Errorf("%w: markers in logs and index differ: %v",
			ErrInternalConsistency, logged.SymmetricDifference(indexed))
	}
	return nil
}
