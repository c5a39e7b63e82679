// Package collector loads the compiled BPF object, attaches its programs to
// the process-lifecycle tracepoints, and pumps the kernel ring buffers into
// the user-space rings so the dispatcher sees one transport regardless of
// whether records come from the kernel or from a test producer.
package collector

import (
    "context"
    "errors"
    "fmt"
    "log"
    "os"
    "os/signal"
    "path/filepath"
    "sync"
    "syscall"

    "github.com/cilium/ebpf"
    "github.com/cilium/ebpf/link"
    "github.com/cilium/ebpf/ringbuf"
    "golang.org/x/sys/unix"

    "github.com/USSURATONCACHI/net-device-mapping/internal/ring"
)

type Collector struct {
    bpfObjectPath string
    events        *ring.Ring
    edges         *ring.Ring
}

func New(bpfObjectPath string, events, edges *ring.Ring) *Collector {
    return &Collector{bpfObjectPath: bpfObjectPath, events: events, edges: edges}
}

// One entry per tracepoint program in the BPF object.
var attachments = []struct {
    program string
    group   string
    name    string
}{
    {"handle_fork", "sched", "sched_process_fork"},
    {"handle_exec", "syscalls", "sys_enter_execve"},
    {"handle_exit", "sched", "sched_process_exit"},
    {"handle_clone", "syscalls", "sys_enter_clone"},
    {"handle_unshare", "syscalls", "sys_enter_unshare"},
    {"handle_setns", "syscalls", "sys_enter_setns"},
    {"handle_fork_edge", "sched", "sched_process_fork"},
}

func (c *Collector) Run(ctx context.Context) error {
    if err := raiseRlimit(); err != nil {
        return err
    }

    bpfPath := c.bpfObjectPath
    if !filepath.IsAbs(bpfPath) {
        exe, err := os.Executable()
        if err != nil {
            return fmt.Errorf("resolve executable: %w", err)
        }
        bpfPath = filepath.Join(filepath.Dir(exe), bpfPath)
    }

    spec, err := ebpf.LoadCollectionSpec(bpfPath)
    if err != nil {
        return fmt.Errorf("load BPF spec from %s: %w", bpfPath, err)
    }

    coll, err := ebpf.NewCollection(spec)
    if err != nil {
        return fmt.Errorf("create BPF collection: %w", err)
    }
    defer coll.Close()

    eventsMap, ok := coll.Maps["events"]
    if !ok {
        return fmt.Errorf("BPF map 'events' not found")
    }
    edgesMap, ok := coll.Maps["fork_edges"]
    if !ok {
        return fmt.Errorf("BPF map 'fork_edges' not found")
    }

    for _, a := range attachments {
        prog, ok := coll.Programs[a.program]
        if !ok {
            return fmt.Errorf("BPF program %q not found", a.program)
        }
        tp, err := link.Tracepoint(a.group, a.name, prog, nil)
        if err != nil {
            return fmt.Errorf("attach %s/%s: %w", a.group, a.name, err)
        }
        defer tp.Close()
    }

    eventsReader, err := ringbuf.NewReader(eventsMap)
    if err != nil {
        return fmt.Errorf("create events ringbuf reader: %w", err)
    }
    defer eventsReader.Close()

    edgesReader, err := ringbuf.NewReader(edgesMap)
    if err != nil {
        return fmt.Errorf("create fork_edges ringbuf reader: %w", err)
    }
    defer edgesReader.Close()

    go func() {
        <-ctx.Done()
        eventsReader.Close()
        edgesReader.Close()
    }()

    log.Printf("collector started with BPF object %s", bpfPath)

    var wg sync.WaitGroup
    wg.Add(2)
    go func() {
        defer wg.Done()
        pump(ctx, eventsReader, c.events)
    }()
    go func() {
        defer wg.Done()
        pump(ctx, edgesReader, c.edges)
    }()
    wg.Wait()
    return nil
}

// pump republishes raw kernel records into a user-space ring. A full ring
// drops the record and the ring counts it.
func pump(ctx context.Context, reader *ringbuf.Reader, dst *ring.Ring) {
    for {
        record, err := reader.Read()
        if err != nil {
            if ctx.Err() != nil || errors.Is(err, os.ErrClosed) {
                return
            }
            log.Printf("ringbuf read error: %v", err)
            continue
        }

        res, ok := dst.TryReserve(len(record.RawSample))
        if !ok {
            continue
        }
        copy(res.Bytes(), record.RawSample)
        res.Commit()
    }
}

func raiseRlimit() error {
    var r unix.Rlimit
    r.Cur = 1 << 30
    r.Max = 1 << 30
    if err := unix.Setrlimit(unix.RLIMIT_MEMLOCK, &r); err != nil {
        return fmt.Errorf("setrlimit RLIMIT_MEMLOCK: %w", err)
    }
    return nil
}

func WithSignalCancel(parent context.Context) (context.Context, context.CancelFunc) {
    ctx, cancel := context.WithCancel(parent)
    ch := make(chan os.Signal, 1)
    signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)

    go func() {
        defer signal.Stop(ch)
        select {
        case <-ch:
            cancel()
        case <-ctx.Done():
        }
    }()

    return ctx, cancel
}
