// Package ring implements a fixed-capacity multi-producer, single-consumer
// byte queue with reserve-and-commit publication, after the kernel BPF ring
// buffer protocol: every record starts on an 8-byte boundary with an 8-byte
// header whose busy bit is set between reservation and commit. Reservations
// are serialized, commit and consume take no locks. A full buffer fails the
// reservation immediately; the record is dropped and counted, producers are
// never blocked.
package ring

import (
    "context"
    "fmt"
    "sync"
    "sync/atomic"
    "unsafe"
)

// DefaultCapacity matches the kernel-side buffer size.
const DefaultCapacity = 1 << 24 // 16 MiB

const (
    headerSize = 8
    busyBit    = uint64(1) << 32
)

type Ring struct {
    words []uint64 // backing store, viewed as bytes for payload copies
    data  []byte
    mask  uint64

    resMu sync.Mutex
    prod  atomic.Uint64
    cons  atomic.Uint64

    dropped atomic.Uint64
    notify  chan struct{}
}

// New creates a ring with the given capacity in bytes. Capacity must be a
// power of two no smaller than 16.
func New(capacity int) (*Ring, error) {
    if capacity < 16 || capacity&(capacity-1) != 0 {
        return nil, fmt.Errorf("ring: capacity %d is not a power of two >= 16", capacity)
    }
    words := make([]uint64, capacity/8)
    r := &Ring{
        words:  words,
        data:   unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), capacity),
        mask:   uint64(capacity - 1),
        notify: make(chan struct{}, 1),
    }
    return r, nil
}

// Reservation is a claim on buffer space for one record. The producer fills
// Bytes and calls Commit, after which the record becomes visible to the
// consumer. An uncommitted reservation blocks the consumer at its position,
// so producers must commit promptly.
type Reservation struct {
    r   *Ring
    pos uint64
    buf []byte
}

func (res *Reservation) Bytes() []byte { return res.buf }

func (res *Reservation) Commit() {
    res.r.writeAt(res.pos+headerSize, res.buf)
    res.r.storeHeader(res.pos, uint64(len(res.buf)))
    res.r.wake()
}

// TryReserve claims space for a record of the given size. On a full buffer
// it fails immediately, increments the drop counter, and the record is lost.
func (r *Ring) TryReserve(size int) (*Reservation, bool) {
    total := headerSize + align8(size)
    if size <= 0 || uint64(total) > r.mask+1-headerSize {
        r.dropped.Add(1)
        return nil, false
    }

    r.resMu.Lock()
    prod := r.prod.Load()
    cons := r.cons.Load()
    if prod+uint64(total)-cons > r.mask+1 {
        r.resMu.Unlock()
        r.dropped.Add(1)
        return nil, false
    }
    r.storeHeader(prod, uint64(size)|busyBit)
    r.prod.Store(prod + uint64(total))
    r.resMu.Unlock()

    return &Reservation{r: r, pos: prod, buf: make([]byte, size)}, true
}

// TryNext returns the next committed record, or false if none is ready. The
// record at the consumer position may be reserved but not yet committed; it
// is not skipped, the consumer waits for it to preserve publication order.
// TryNext must only be called from a single consumer goroutine.
func (r *Ring) TryNext() ([]byte, bool) {
    cons := r.cons.Load()
    if cons == r.prod.Load() {
        return nil, false
    }
    hdr := r.loadHeader(cons)
    if hdr&busyBit != 0 {
        return nil, false
    }
    size := uint32(hdr)
    out := make([]byte, size)
    r.readAt(cons+headerSize, out)
    r.cons.Store(cons + headerSize + uint64(align8(int(size))))
    return out, true
}

// Next blocks until a committed record is available or ctx is done.
func (r *Ring) Next(ctx context.Context) ([]byte, error) {
    for {
        if b, ok := r.TryNext(); ok {
            return b, nil
        }
        select {
        case <-ctx.Done():
            return nil, ctx.Err()
        case <-r.notify:
        }
    }
}

// Dropped returns the number of records lost to failed reservations.
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }

func (r *Ring) wake() {
    select {
    case r.notify <- struct{}{}:
    default:
    }
}

// Headers are 8-byte aligned and the capacity is a multiple of 8, so a
// header never straddles the wrap boundary.
func (r *Ring) storeHeader(pos, v uint64) {
    atomic.StoreUint64(&r.words[(pos&r.mask)/8], v)
}

func (r *Ring) loadHeader(pos uint64) uint64 {
    return atomic.LoadUint64(&r.words[(pos&r.mask)/8])
}

func (r *Ring) writeAt(pos uint64, b []byte) {
    i := int(pos & r.mask)
    n := copy(r.data[i:], b)
    if n < len(b) {
        copy(r.data, b[n:])
    }
}

func (r *Ring) readAt(pos uint64, b []byte) {
    i := int(pos & r.mask)
    n := copy(b, r.data[i:])
    if n < len(b) {
        copy(b[n:], r.data)
    }
}

func align8(n int) int { return (n + 7) &^ 7 }
