package pool

import (
	"sort"

	"github.com/joao-brasil/steadydb/internal/steady"
)

// SharedRecord pairs one steady.Connection with a share count: how many
// concurrent SharedLease holders are currently pointed at it. It
// implements the ordering law of spec.md §3: connections not currently
// mid-transaction sort before those that are, and within each group
// fewer shares sorts first — so the next shared acquisition always picks
// the least-loaded, non-transacting connection available.
type SharedRecord struct {
	conn   *steady.Connection
	shares int
}

// Conn returns the underlying steady connection. Exposed for tests and
// for the pool's own bookkeeping; application code reaches a
// SharedRecord's connection only through a SharedLease.
func (r *SharedRecord) Conn() *steady.Connection { return r.conn }

// Shares reports the current share count.
func (r *SharedRecord) Shares() int { return r.shares }

func sortShared(records []*SharedRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ti, tj := records[i].conn.InTransaction(), records[j].conn.InTransaction()
		if ti != tj {
			return !ti // non-transacting first
		}
		return records[i].shares < records[j].shares
	})
}

func removeRecord(records *[]*SharedRecord, target *SharedRecord) {
	rs := *records
	for i, r := range rs {
		if r == target {
			*records = append(rs[:i], rs[i+1:]...)
			return
		}
	}
}
