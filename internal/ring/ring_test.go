package ring

import (
    "bytes"
    "context"
    "fmt"
    "sync"
    "testing"
    "time"
)

func publish(t *testing.T, r *Ring, payload []byte) {
    t.Helper()
    res, ok := r.TryReserve(len(payload))
    if !ok {
        t.Fatalf("TryReserve(%d) failed unexpectedly", len(payload))
    }
    copy(res.Bytes(), payload)
    res.Commit()
}

func TestCommitOrder(t *testing.T) {
    r, err := New(1024)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    publish(t, r, []byte("first"))
    publish(t, r, []byte("second"))

    got, ok := r.TryNext()
    if !ok || string(got) != "first" {
        t.Fatalf("first record: got %q, ok=%v", got, ok)
    }
    got, ok = r.TryNext()
    if !ok || string(got) != "second" {
        t.Fatalf("second record: got %q, ok=%v", got, ok)
    }
    if _, ok := r.TryNext(); ok {
        t.Fatalf("expected empty ring")
    }
}

func TestCapacityBoundary(t *testing.T) {
    r, err := New(256)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    // Each record consumes 8 header + 24 payload bytes.
    rec := make([]byte, 24)
    var committed int
    for i := 0; i < 100; i++ {
        rec[0] = byte(i)
        res, ok := r.TryReserve(len(rec))
        if !ok {
            break
        }
        copy(res.Bytes(), rec)
        res.Commit()
        committed++
    }
    if committed != 256/32 {
        t.Fatalf("committed %d records, want %d", committed, 256/32)
    }

    // Saturated: further publishes drop and are counted.
    if _, ok := r.TryReserve(24); ok {
        t.Fatalf("expected reservation failure on full ring")
    }
    if r.Dropped() == 0 {
        t.Fatalf("expected non-zero drop count")
    }

    // Records committed before saturation remain intact, in order.
    for i := 0; i < committed; i++ {
        got, ok := r.TryNext()
        if !ok {
            t.Fatalf("record %d missing", i)
        }
        if got[0] != byte(i) {
            t.Fatalf("record %d: got marker %d", i, got[0])
        }
    }
}

func TestUncommittedReservationGatesConsumer(t *testing.T) {
    r, err := New(1024)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    resA, ok := r.TryReserve(8)
    if !ok {
        t.Fatalf("reserve A failed")
    }
    publish(t, r, []byte("b-record"))

    // A is reserved but uncommitted; B must not be delivered ahead of it.
    if got, ok := r.TryNext(); ok {
        t.Fatalf("got %q before first reservation committed", got)
    }

    copy(resA.Bytes(), []byte("a-record"))
    resA.Commit()

    got, _ := r.TryNext()
    if string(got) != "a-record" {
        t.Fatalf("got %q, want a-record", got)
    }
    got, _ = r.TryNext()
    if string(got) != "b-record" {
        t.Fatalf("got %q, want b-record", got)
    }
}

func TestWrapAround(t *testing.T) {
    r, err := New(64)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    for i := 0; i < 200; i++ {
        payload := []byte(fmt.Sprintf("rec-%03d-xxxxx", i))
        publish(t, r, payload)
        got, ok := r.TryNext()
        if !ok {
            t.Fatalf("iteration %d: no record", i)
        }
        if !bytes.Equal(got, payload) {
            t.Fatalf("iteration %d: got %q, want %q", i, got, payload)
        }
    }
}

func TestNextBlocksUntilCommit(t *testing.T) {
    r, err := New(1024)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    go func() {
        time.Sleep(10 * time.Millisecond)
        res, _ := r.TryReserve(5)
        copy(res.Bytes(), []byte("hello"))
        res.Commit()
    }()

    ctx, cancel := context.WithTimeout(context.Background(), time.Second)
    defer cancel()
    got, err := r.Next(ctx)
    if err != nil {
        t.Fatalf("Next: %v", err)
    }
    if string(got) != "hello" {
        t.Fatalf("got %q", got)
    }

    ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
    defer cancel2()
    if _, err := r.Next(ctx2); err == nil {
        t.Fatalf("expected context error from empty ring")
    }
}

func TestConcurrentProducers(t *testing.T) {
    r, err := New(1 << 16)
    if err != nil {
        t.Fatalf("New: %v", err)
    }

    const producers = 4
    const perProducer = 5000

    stop := make(chan struct{})
    counts := make(chan int, 1)
    go func() {
        n := 0
        for {
            select {
            case <-stop:
                // Producers are done; drain the remainder.
                for {
                    if _, ok := r.TryNext(); !ok {
                        break
                    }
                    n++
                }
                counts <- n
                return
            default:
                if rec, ok := r.TryNext(); ok {
                    if len(rec) != 16 {
                        panic(fmt.Sprintf("bad record length %d", len(rec)))
                    }
                    n++
                } else {
                    time.Sleep(10 * time.Microsecond)
                }
            }
        }
    }()

    var wg sync.WaitGroup
    for p := 0; p < producers; p++ {
        wg.Add(1)
        go func(p int) {
            defer wg.Done()
            payload := make([]byte, 16)
            payload[0] = byte(p)
            for i := 0; i < perProducer; i++ {
                res, ok := r.TryReserve(len(payload))
                if !ok {
                    continue
                }
                copy(res.Bytes(), payload)
                res.Commit()
            }
        }(p)
    }
    wg.Wait()
    close(stop)
    consumed := <-counts

    if uint64(consumed)+r.Dropped() != producers*perProducer {
        t.Fatalf("consumed %d + dropped %d != produced %d", consumed, r.Dropped(), producers*perProducer)
    }
}

func TestInvalidCapacity(t *testing.T) {
    for _, c := range []int{0, 10, 100, -8} {
        if _, err := New(c); err == nil {
            t.Fatalf("New(%d): expected error", c)
        }
    }
}
