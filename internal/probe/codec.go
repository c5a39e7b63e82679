package probe

import (
    "bytes"
    "encoding/binary"
    "fmt"
    "time"

    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

// Wire discriminants, shared with the kernel-side programs.
const (
    kindFork uint32 = iota
    kindExec
    kindExit
    kindClone
    kindUnshare
    kindSetns
)

// Record sizes are fixed per discriminant; decode rejects anything else.
const (
    // kind, pid, tid, uid, gid, parent_pid, comm[16]
    ProcessRecordSize = 6*4 + CommLen
    // parent_pid, child_pid
    ForkEdgeRecordSize = 2 * 4
)

// Records are in the kernel's native byte order.
var wire = binary.NativeEndian

func encodeProcessRecord(b []byte, kind uint32, parentPid uint32, insp TaskInspector) {
    pidTgid := insp.PidTgid()
    uidGid := insp.UidGid()
    comm := insp.Comm()

    wire.PutUint32(b[0:4], kind)
    wire.PutUint32(b[4:8], uint32(pidTgid>>32))  // pid = tgid
    wire.PutUint32(b[8:12], uint32(pidTgid))     // tid
    wire.PutUint32(b[12:16], uint32(uidGid))     // uid
    wire.PutUint32(b[16:20], uint32(uidGid>>32)) // gid
    wire.PutUint32(b[20:24], parentPid)
    copy(b[24:], comm[:])
}

func encodeForkEdge(b []byte, parentPid, childPid uint32) {
    wire.PutUint32(b[0:4], parentPid)
    wire.PutUint32(b[4:8], childPid)
}

var kindTypes = map[uint32]model.EventType{
    kindFork:    model.EventFork,
    kindExec:    model.EventExec,
    kindExit:    model.EventExit,
    kindClone:   model.EventClone,
    kindUnshare: model.EventUnshare,
    kindSetns:   model.EventSetns,
}

// DecodeProcessRecord reconstructs a typed event from one drained record.
// A size mismatch for the discriminant is a per-record decode error.
func DecodeProcessRecord(b []byte) (model.ProcessEvent, error) {
    if len(b) < 4 {
        return model.ProcessEvent{}, fmt.Errorf("decode process record: %d bytes, want at least 4", len(b))
    }
    kind := wire.Uint32(b[0:4])
    typ, ok := kindTypes[kind]
    if !ok {
        return model.ProcessEvent{}, fmt.Errorf("decode process record: unknown discriminant %d", kind)
    }
    if len(b) != ProcessRecordSize {
        return model.ProcessEvent{}, fmt.Errorf("decode %s record: %d bytes, want %d", typ, len(b), ProcessRecordSize)
    }

    src := model.ParentFromTask
    if kind == kindFork {
        src = model.ParentFromTracepoint
    }
    return model.ProcessEvent{
        Timestamp:    time.Now().UTC(),
        Type:         typ,
        Pid:          wire.Uint32(b[4:8]),
        Tid:          wire.Uint32(b[8:12]),
        Uid:          wire.Uint32(b[12:16]),
        Gid:          wire.Uint32(b[16:20]),
        ParentPid:    wire.Uint32(b[20:24]),
        ParentSource: src,
        Comm:         commString(b[24:]),
    }, nil
}

// DecodeForkEdge decodes the reduced fork record. It has no discriminant;
// only its size identifies it, so it must come from the fork-edge ring.
func DecodeForkEdge(b []byte) (model.ForkEdge, error) {
    if len(b) != ForkEdgeRecordSize {
        return model.ForkEdge{}, fmt.Errorf("decode fork edge: %d bytes, want %d", len(b), ForkEdgeRecordSize)
    }
    return model.ForkEdge{
        ParentPid: wire.Uint32(b[0:4]),
        ChildPid:  wire.Uint32(b[4:8]),
    }, nil
}

// commString trims the zero padding; a name of exactly CommLen bytes has no
// terminator at all.
func commString(b []byte) string {
    n := bytes.IndexByte(b, 0)
    if n == -1 {
        n = len(b)
    }
    return string(b[:n])
}
