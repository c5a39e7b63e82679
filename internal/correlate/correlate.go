// Package correlate joins the two event channels. Process events say "this
// pid is changing its namespace membership"; nsid notifications say "this
// namespace id now exists". The kernel gives the two no shared transaction
// id and no common ordering, so the join is a temporal heuristic: the
// oldest unserviced membership change within the window is attributed the
// next assigned id. Both confident and unmatched outcomes are surfaced.
package correlate

import (
    "fmt"
    "sync"
    "time"

    lru "github.com/hashicorp/golang-lru/v2"

    "github.com/USSURATONCACHI/net-device-mapping/internal/metrics"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

type Outcome string

const (
    OutcomeConfident Outcome = "confident"
    OutcomeUnmatched Outcome = "unmatched"
)

// Attribution is the correlator's output. Unmatched attributions carry a
// zero Pid; downstream consumers see them rather than having unmatched
// namespace events silently dropped.
type Attribution struct {
    Outcome Outcome         `json:"outcome"`
    NSID    int32           `json:"nsid"`
    Pid     uint32          `json:"pid,omitempty"`
    Via     model.EventType `json:"via,omitempty"`
    At      time.Time       `json:"at"`
}

type Config struct {
    // Window bounds how long a clone/unshare/setns stays eligible for the
    // next assigned namespace id.
    Window time.Duration
    // TableSize bounds the pid table; least recently touched entries are
    // evicted first.
    TableSize int
}

type pendingChange struct {
    pid uint32
    via model.EventType
    at  time.Time
    // A clone's namespace belongs to the child, which is only known once
    // the fork edge for this parent arrives.
    awaitingChild bool
}

type Correlator struct {
    mu      sync.Mutex
    window  time.Duration
    now     func() time.Time
    pending []pendingChange

    // pid -> namespace ids attributed to it
    table  *lru.Cache[uint32, map[int32]struct{}]
    byNSID map[int32]uint32

    onResult func(Attribution)
}

func New(cfg Config, onResult func(Attribution)) (*Correlator, error) {
    if cfg.Window <= 0 {
        return nil, fmt.Errorf("correlate: window must be positive, got %v", cfg.Window)
    }
    if cfg.TableSize <= 0 {
        return nil, fmt.Errorf("correlate: table size must be positive, got %d", cfg.TableSize)
    }
    c := &Correlator{
        window:   cfg.Window,
        now:      time.Now,
        byNSID:   make(map[int32]uint32),
        onResult: onResult,
    }
    // Dropping a pid from the table must also drop its id mappings, or
    // byNSID would grow without bound.
    table, err := lru.NewWithEvict[uint32, map[int32]struct{}](cfg.TableSize, func(_ uint32, set map[int32]struct{}) {
        for nsid := range set {
            delete(c.byNSID, nsid)
        }
    })
    if err != nil {
        return nil, fmt.Errorf("correlate: %w", err)
    }
    c.table = table
    return c, nil
}

// ObserveProcess feeds one decoded tracepoint event into the correlator.
func (c *Correlator) ObserveProcess(ev model.ProcessEvent) {
    c.mu.Lock()
    defer c.mu.Unlock()

    switch ev.Type {
    case model.EventClone:
        c.pending = append(c.pending, pendingChange{pid: ev.Pid, via: ev.Type, at: c.now(), awaitingChild: true})
    case model.EventUnshare, model.EventSetns:
        c.pending = append(c.pending, pendingChange{pid: ev.Pid, via: ev.Type, at: c.now()})
    case model.EventExit:
        // Exit is authoritative for the pid table; the namespace itself may
        // outlive the process and its id mapping is kept until removal.
        c.evictPid(ev.Pid)
    }
}

// ObserveForkEdge retargets a pending clone from the calling parent to the
// created child, which is the process that actually owns the namespace.
func (c *Correlator) ObserveForkEdge(edge model.ForkEdge) {
    c.mu.Lock()
    defer c.mu.Unlock()

    now := c.now()
    for i := range c.pending {
        p := &c.pending[i]
        if p.awaitingChild && p.pid == edge.ParentPid && now.Sub(p.at) <= c.window {
            p.pid = edge.ChildPid
            p.awaitingChild = false
            return
        }
    }
}

// ObserveNamespace joins an nsid notification against the pending changes.
func (c *Correlator) ObserveNamespace(ev model.NamespaceEvent) {
    c.mu.Lock()
    defer c.mu.Unlock()

    switch ev.Action {
    case model.NamespaceAssigned:
        c.attribute(ev.NSID)
    case model.NamespaceRemoved:
        if pid, ok := c.byNSID[ev.NSID]; ok {
            delete(c.byNSID, ev.NSID)
            if set, ok := c.table.Get(pid); ok {
                delete(set, ev.NSID)
            }
        }
    }
}

func (c *Correlator) attribute(nsid int32) {
    now := c.now()
    c.prune(now)

    // Oldest unserviced change first.
    if len(c.pending) > 0 {
        p := c.pending[0]
        c.pending = c.pending[1:]

        set, ok := c.table.Get(p.pid)
        if !ok {
            set = make(map[int32]struct{})
            c.table.Add(p.pid, set)
        }
        set[nsid] = struct{}{}
        c.byNSID[nsid] = p.pid

        c.emit(Attribution{Outcome: OutcomeConfident, NSID: nsid, Pid: p.pid, Via: p.via, At: now})
        return
    }

    c.emit(Attribution{Outcome: OutcomeUnmatched, NSID: nsid, At: now})
}

func (c *Correlator) prune(now time.Time) {
    kept := c.pending[:0]
    for _, p := range c.pending {
        if now.Sub(p.at) <= c.window {
            kept = append(kept, p)
        }
    }
    c.pending = kept
}

func (c *Correlator) evictPid(pid uint32) {
    c.table.Remove(pid) // eviction callback clears byNSID
    kept := c.pending[:0]
    for _, p := range c.pending {
        if p.pid != pid {
            kept = append(kept, p)
        }
    }
    c.pending = kept
}

func (c *Correlator) emit(a Attribution) {
    metrics.IncCorrelation(string(a.Outcome))
    if c.onResult != nil {
        c.onResult(a)
    }
}

// ProcessNamespaces is one row of the queryable state view.
type ProcessNamespaces struct {
    Pid   uint32  `json:"pid"`
    NSIDs []int32 `json:"nsids"`
}

// Snapshot returns the current pid -> namespace-id view.
func (c *Correlator) Snapshot() []ProcessNamespaces {
    c.mu.Lock()
    defer c.mu.Unlock()

    out := make([]ProcessNamespaces, 0, c.table.Len())
    for _, pid := range c.table.Keys() {
        set, ok := c.table.Peek(pid)
        if !ok {
            continue
        }
        row := ProcessNamespaces{Pid: pid, NSIDs: make([]int32, 0, len(set))}
        for nsid := range set {
            row.NSIDs = append(row.NSIDs, nsid)
        }
        out = append(out, row)
    }
    return out
}
