// Package router implements event routing: mapping an inbound event to
// a target worker through an ordered chain of strategies, with learned
// mappings written back into an immutable routing table.
package router

import (
	"sync"
	"sync/atomic"
)

// table is one immutable routing table snapshot. Readers load the
// current snapshot through an atomic pointer and never observe a
// partially-updated table; writers build a new table and publish it.
type table struct {
	direct  map[string]string // event_type -> worker
	domains map[string]string // domain token -> worker
}

func (t *table) clone() *table {
	nt := &table{
		direct:  make(map[string]string, len(t.direct)+1),
		domains: make(map[string]string, len(t.domains)),
	}
	for k, v := range t.direct {
		nt.direct[k] = v
	}
	for k, v := range t.domains {
		nt.domains[k] = v
	}
	return nt
}

// ruleTable holds the live snapshot plus a writer lock so concurrent
// learners serialize their copy-and-swap.
type ruleTable struct {
	snapshot atomic.Pointer[table]
	writeMu  sync.Mutex
}

func newRuleTable(direct, domains map[string]string) *ruleTable {
	if direct == nil {
		direct = map[string]string{}
	}
	if domains == nil {
		domains = map[string]string{}
	}
	rt := &ruleTable{}
	rt.snapshot.Store(&table{direct: direct, domains: domains})
	return rt
}

func (rt *ruleTable) lookupDirect(eventType string) (string, bool) {
	w, ok := rt.snapshot.Load().direct[eventType]
	return w, ok
}

func (rt *ruleTable) lookupDomain(domain string) (string, bool) {
	w, ok := rt.snapshot.Load().domains[domain]
	return w, ok
}

// learn records eventType -> workerID in the direct table so future
// lookups are O(1). Learned mappings are ephemeral: they are rebuilt
// from configuration and observed traffic after a restart.
func (rt *ruleTable) learn(eventType, workerID string) {
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()

	cur := rt.snapshot.Load()
	if cur.direct[eventType] == workerID {
		return
	}
	nt := cur.clone()
	nt.direct[eventType] = workerID
	rt.snapshot.Store(nt)
}
