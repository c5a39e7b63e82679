package main

import (
    "context"
    "encoding/json"
    "flag"
    "log"
    "net/http"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"

    "github.com/USSURATONCACHI/net-device-mapping/internal/alerts"
    "github.com/USSURATONCACHI/net-device-mapping/internal/collector"
    "github.com/USSURATONCACHI/net-device-mapping/internal/config"
    "github.com/USSURATONCACHI/net-device-mapping/internal/correlate"
    "github.com/USSURATONCACHI/net-device-mapping/internal/detect"
    "github.com/USSURATONCACHI/net-device-mapping/internal/dispatch"
    "github.com/USSURATONCACHI/net-device-mapping/internal/metrics"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
    "github.com/USSURATONCACHI/net-device-mapping/internal/nsid"
    "github.com/USSURATONCACHI/net-device-mapping/internal/ring"
)

func main() {
    var (
        bpfObject  = flag.String("bpf-object", "./internal/bpf/net_device_mapping.bpf.o", "Path to compiled eBPF object file")
        configPath = flag.String("config", "", "Path to YAML configuration (optional)")
        promAddr   = flag.String("prom-addr", ":9100", "Address for Prometheus metrics (e.g. :9100)")
        alertFile  = flag.String("alert-file", "./alerts.jsonl", "Path to JSON lines alert file")
    )
    flag.Parse()

    cfg := config.Default()
    if *configPath != "" {
        loaded, err := config.Load(*configPath)
        if err != nil {
            log.Fatalf("load config: %v", err)
        }
        cfg = loaded
    }

    eng, err := detect.NewEngine(cfg)
    if err != nil {
        log.Fatalf("init detect engine: %v", err)
    }

    writer, err := alerts.NewFileWriter(*alertFile)
    if err != nil {
        log.Fatalf("init alerts writer: %v", err)
    }
    defer writer.Close()

    events, err := ring.New(cfg.RingCapacity)
    if err != nil {
        log.Fatalf("init events ring: %v", err)
    }
    edges, err := ring.New(cfg.RingCapacity)
    if err != nil {
        log.Fatalf("init fork-edges ring: %v", err)
    }

    corr, err := correlate.New(correlate.Config{
        Window:    cfg.CorrelationWindow(),
        TableSize: cfg.CorrelationTable,
    }, func(a correlate.Attribution) {
        if a.Outcome == correlate.OutcomeConfident {
            log.Printf("nsid %d attributed to pid %d (via %s)", a.NSID, a.Pid, a.Via)
        } else {
            log.Printf("nsid %d assigned with no matching process event", a.NSID)
        }
    })
    if err != nil {
        log.Fatalf("init correlator: %v", err)
    }

    reg := prometheus.NewRegistry()
    metrics.Register(reg)
    metrics.RegisterDrops(reg, "events", events.Dropped)
    metrics.RegisterDrops(reg, "fork_edges", edges.Dropped)

    mux := http.NewServeMux()
    mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
    mux.HandleFunc("/namespaces", func(w http.ResponseWriter, _ *http.Request) {
        w.Header().Set("Content-Type", "application/json")
        if err := json.NewEncoder(w).Encode(corr.Snapshot()); err != nil {
            log.Printf("encode snapshot: %v", err)
        }
    })

    go func() {
        log.Printf("Prometheus metrics listening on %s", *promAddr)
        if err := http.ListenAndServe(*promAddr, mux); err != nil {
            log.Fatalf("metrics HTTP server: %v", err)
        }
    }()

    ctx, cancel := collector.WithSignalCancel(context.Background())
    defer cancel()

    watcher, err := nsid.NewWatcher(corr.ObserveNamespace)
    if err != nil {
        log.Fatalf("nsid watcher: %v", err)
    }
    go func() {
        if err := watcher.Run(ctx); err != nil {
            log.Printf("nsid watcher stopped: %v", err)
        }
    }()

    disp := dispatch.New(events, edges,
        func(ev model.ProcessEvent) {
            corr.ObserveProcess(ev)
            for _, a := range eng.Evaluate(ev) {
                metrics.IncAlert(a.RuleID)
                if err := writer.Write(a); err != nil {
                    log.Printf("write alert: %v", err)
                }
            }
        },
        corr.ObserveForkEdge,
    )
    go func() {
        if err := disp.RunEvents(ctx); err != nil {
            log.Printf("event dispatch stopped: %v", err)
        }
    }()
    go func() {
        if err := disp.RunEdges(ctx); err != nil {
            log.Printf("fork-edge dispatch stopped: %v", err)
        }
    }()

    coll := collector.New(*bpfObject, events, edges)
    if err := coll.Run(ctx); err != nil {
        log.Fatalf("collector: %v", err)
    }
}
