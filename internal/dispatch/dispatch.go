// Package dispatch drains the user-space rings and hands decoded events to
// the registered consumers in commit order. Commit order is per ring; across
// CPUs it can diverge slightly from occurrence order.
package dispatch

import (
    "context"
    "log"

    "github.com/USSURATONCACHI/net-device-mapping/internal/metrics"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
    "github.com/USSURATONCACHI/net-device-mapping/internal/probe"
    "github.com/USSURATONCACHI/net-device-mapping/internal/ring"
)

type Dispatcher struct {
    events *ring.Ring
    edges  *ring.Ring

    onEvent func(model.ProcessEvent)
    onEdge  func(model.ForkEdge)
}

func New(events, edges *ring.Ring, onEvent func(model.ProcessEvent), onEdge func(model.ForkEdge)) *Dispatcher {
    return &Dispatcher{events: events, edges: edges, onEvent: onEvent, onEdge: onEdge}
}

// RunEvents drains the ProcessEvent ring until ctx is done. A malformed
// record is logged and skipped; it never stops the drain.
func (d *Dispatcher) RunEvents(ctx context.Context) error {
    for {
        rec, err := d.events.Next(ctx)
        if err != nil {
            return nil
        }
        ev, err := probe.DecodeProcessRecord(rec)
        if err != nil {
            metrics.IncDecodeError()
            log.Printf("dispatch: %v", err)
            continue
        }
        metrics.IncEvent(ev.Type)
        if d.onEvent != nil {
            d.onEvent(ev)
        }
    }
}

// RunEdges drains the fork-edge ring until ctx is done.
func (d *Dispatcher) RunEdges(ctx context.Context) error {
    for {
        rec, err := d.edges.Next(ctx)
        if err != nil {
            return nil
        }
        edge, err := probe.DecodeForkEdge(rec)
        if err != nil {
            metrics.IncDecodeError()
            log.Printf("dispatch: %v", err)
            continue
        }
        if d.onEdge != nil {
            d.onEdge(edge)
        }
    }
}
