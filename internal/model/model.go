package model

import "time"

type EventType string

const (
    EventFork    EventType = "fork"
    EventExec    EventType = "exec"
    EventExit    EventType = "exit"
    EventClone   EventType = "clone"
    EventUnshare EventType = "unshare"
    EventSetns   EventType = "setns"
)

// ParentSource records where ParentPid was read from. The fork tracepoint
// carries the parent pid in its own context; every other probe walks the
// current task's real parent. The two are not guaranteed to agree.
type ParentSource string

const (
    ParentFromTracepoint ParentSource = "tracepoint"
    ParentFromTask       ParentSource = "task"
)

type ProcessEvent struct {
    Timestamp time.Time `json:"timestamp"`
    Type      EventType `json:"type"`

    Pid uint32 `json:"pid"`
    Tid uint32 `json:"tid"`
    Uid uint32 `json:"uid"`
    Gid uint32 `json:"gid"`

    ParentPid    uint32       `json:"parent_pid"`
    ParentSource ParentSource `json:"parent_source"`

    Comm string `json:"comm"`
}

// ForkEdge is the reduced record emitted by the standalone fork probe.
// It shares the fork tracepoint with ProcessEvent but not its wire format.
type ForkEdge struct {
    ParentPid uint32 `json:"parent_pid"`
    ChildPid  uint32 `json:"child_pid"`
}

type NamespaceAction string

const (
    NamespaceAssigned NamespaceAction = "assigned"
    NamespaceRemoved  NamespaceAction = "removed"
)

type NamespaceEvent struct {
    NSID   int32           `json:"nsid"`
    Action NamespaceAction `json:"action"`
}
