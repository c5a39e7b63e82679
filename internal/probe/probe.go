// Package probe holds the handlers attached to the process-lifecycle
// tracepoints and the wire codec for the records they publish. The handlers
// mirror the kernel-side programs: read the current task's identity, fill a
// fixed-layout record, try to publish it, and report success regardless of
// the outcome. A TaskInspector stands in for the kernel task helpers so the
// handlers can run against a fake in tests.
package probe

import (
    "github.com/USSURATONCACHI/net-device-mapping/internal/ring"
)

// CommLen is the kernel task short-name length.
const CommLen = 16

// TaskInspector exposes the identity of the task triggering a probe, in the
// packed form the kernel helpers return.
type TaskInspector interface {
    // PidTgid packs the thread id in the low 32 bits and the thread-group
    // id in the high 32 bits.
    PidTgid() uint64
    // UidGid packs the effective uid in the low 32 bits and the effective
    // gid in the high 32 bits.
    UidGid() uint64
    // ParentTgid walks the current task's real parent and returns its tgid.
    ParentTgid() uint32
    Comm() [CommLen]byte
}

// ForkContext carries the fields the fork tracepoint supplies in its own
// context, unlike the syscall tracepoints which carry nothing we use.
type ForkContext struct {
    ParentPid uint32
    ChildPid  uint32
}

// Probes publishes one ProcessEvent record per triggering occurrence.
type Probes struct {
    insp TaskInspector
    ring *ring.Ring
}

func NewProbes(insp TaskInspector, r *ring.Ring) *Probes {
    return &Probes{insp: insp, ring: r}
}

// HandleFork takes the parent pid from the tracepoint context rather than
// the parent walk; the two sources are not guaranteed to agree.
func (p *Probes) HandleFork(ctx ForkContext) {
    p.publish(kindFork, ctx.ParentPid)
}

func (p *Probes) HandleExec() { p.publish(kindExec, p.insp.ParentTgid()) }

func (p *Probes) HandleExit() { p.publish(kindExit, p.insp.ParentTgid()) }

func (p *Probes) HandleClone() { p.publish(kindClone, p.insp.ParentTgid()) }

func (p *Probes) HandleUnshare() { p.publish(kindUnshare, p.insp.ParentTgid()) }

func (p *Probes) HandleSetns() { p.publish(kindSetns, p.insp.ParentTgid()) }

func (p *Probes) publish(kind uint32, parentPid uint32) {
    res, ok := p.ring.TryReserve(ProcessRecordSize)
    if !ok {
        // Full buffer drops the record; the triggering path is never told.
        return
    }
    encodeProcessRecord(res.Bytes(), kind, parentPid, p.insp)
    res.Commit()
}

// ForkEdgeProbe is the second, independent probe on the fork tracepoint. It
// emits the reduced parent/child record into its own ring; the two fork
// records do not share a wire format.
type ForkEdgeProbe struct {
    ring *ring.Ring
}

func NewForkEdgeProbe(r *ring.Ring) *ForkEdgeProbe {
    return &ForkEdgeProbe{ring: r}
}

func (p *ForkEdgeProbe) HandleFork(ctx ForkContext) {
    res, ok := p.ring.TryReserve(ForkEdgeRecordSize)
    if !ok {
        return
    }
    encodeForkEdge(res.Bytes(), ctx.ParentPid, ctx.ChildPid)
    res.Commit()
}
