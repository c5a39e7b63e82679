// Package nsid watches the kernel's network-namespace-id notifications.
// This is the second event channel into the monitor, independent of the
// tracepoint path: the kernel multicasts RTM_NEWNSID / RTM_DELNSID on the
// route-netlink NSID group, and the id itself arrives out of band in an
// ancillary control message, not in the message payload.
package nsid

import (
    "context"
    "encoding/binary"
    "fmt"
    "log"
    "syscall"

    "golang.org/x/sys/unix"

    "github.com/USSURATONCACHI/net-device-mapping/internal/metrics"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

const recvBufLen = 8192

type Watcher struct {
    fd      int
    onEvent func(model.NamespaceEvent)
}

// NewWatcher opens and configures the netlink socket. Any failure here is
// fatal to the watcher; there is no retry.
func NewWatcher(onEvent func(model.NamespaceEvent)) (*Watcher, error) {
    fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_ROUTE)
    if err != nil {
        return nil, fmt.Errorf("nsid: socket: %w", err)
    }

    if err := unix.Bind(fd, &unix.SockaddrNetlink{
        Family: unix.AF_NETLINK,
        Groups: unix.RTNLGRP_NSID,
    }); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("nsid: bind: %w", err)
    }

    // Receive notifications sourced from every namespace on the host, not
    // only our own.
    if err := unix.SetsockoptInt(fd, unix.SOL_NETLINK, unix.NETLINK_LISTEN_ALL_NSID, 1); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("nsid: setsockopt NETLINK_LISTEN_ALL_NSID: %w", err)
    }

    if err := unix.SetsockoptInt(fd, unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, unix.RTNLGRP_NSID); err != nil {
        unix.Close(fd)
        return nil, fmt.Errorf("nsid: setsockopt NETLINK_ADD_MEMBERSHIP: %w", err)
    }

    return &Watcher{fd: fd, onEvent: onEvent}, nil
}

// Run blocks in the receive loop until ctx is done or a receive error ends
// the loop. A receive error is terminal for the loop, not retried.
func (w *Watcher) Run(ctx context.Context) error {
    done := make(chan struct{})
    defer close(done)
    go func() {
        select {
        case <-ctx.Done():
            unix.Close(w.fd)
        case <-done:
        }
    }()

    buf := make([]byte, recvBufLen)
    oob := make([]byte, unix.CmsgSpace(4))

    for {
        n, oobn, _, _, err := unix.Recvmsg(w.fd, buf, oob, 0)
        if err != nil {
            if ctx.Err() != nil {
                return nil
            }
            if err == unix.EINTR {
                continue
            }
            return fmt.Errorf("nsid: recvmsg: %w", err)
        }

        events, err := parseDatagram(buf[:n], oob[:oobn])
        if err != nil {
            log.Printf("nsid: %v", err)
            continue
        }
        for _, ev := range events {
            metrics.IncNamespaceEvent(ev.Action)
            if w.onEvent != nil {
                w.onEvent(ev)
            }
        }
    }
}

// parseDatagram decodes one recvmsg result. The nsid from the single
// ancillary block is applied to every netlink message framed in the
// datagram; that is a heuristic of the notification protocol, not a
// guarantee, but the kernel attaches at most one NETLINK_LISTEN_ALL_NSID
// control message per receive.
func parseDatagram(buf, oob []byte) ([]model.NamespaceEvent, error) {
    nsid := int32(-1)
    if len(oob) > 0 {
        cmsgs, err := unix.ParseSocketControlMessage(oob)
        if err != nil {
            return nil, fmt.Errorf("parse control messages: %w", err)
        }
        for _, c := range cmsgs {
            if c.Header.Level == unix.SOL_NETLINK && c.Header.Type == unix.NETLINK_LISTEN_ALL_NSID && len(c.Data) >= 4 {
                nsid = int32(binary.NativeEndian.Uint32(c.Data[0:4]))
                break
            }
        }
    }

    msgs, err := syscall.ParseNetlinkMessage(buf)
    if err != nil {
        return nil, fmt.Errorf("parse netlink messages: %w", err)
    }

    var events []model.NamespaceEvent
    for _, m := range msgs {
        switch m.Header.Type {
        case unix.RTM_NEWNSID:
            events = append(events, model.NamespaceEvent{NSID: nsid, Action: model.NamespaceAssigned})
        case unix.RTM_DELNSID:
            events = append(events, model.NamespaceEvent{NSID: nsid, Action: model.NamespaceRemoved})
        }
    }
    return events, nil
}
