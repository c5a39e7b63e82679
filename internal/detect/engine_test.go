package detect

import (
    "testing"
    "time"

    "github.com/USSURATONCACHI/net-device-mapping/internal/config"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

func TestRuleMatchByComm(t *testing.T) {
    cfg := &config.Config{
        Rules: []config.Rule{
            {
                ID:          "shell_rule",
                Description: "shell comm rule",
                EventTypes:  []string{"exec"},
                CommRegex:   "(?i)bash",
            },
        },
    }

    eng, err := NewEngine(cfg)
    if err != nil {
        t.Fatalf("NewEngine: %v", err)
    }

    ev := model.ProcessEvent{
        Timestamp: time.Now(),
        Pid:       123,
        Tid:       123,
        Type:      model.EventExec,
        Comm:      "bash",
    }

    alerts := eng.Evaluate(ev)
    found := false
    for _, a := range alerts {
        if a.RuleID == "shell_rule" {
            found = true
            break
        }
    }
    if !found {
        t.Fatalf("expected rule shell_rule to fire, got %+v", alerts)
    }
}

func TestRuleUidBounds(t *testing.T) {
    min := uint32(1000)
    cfg := &config.Config{
        Rules: []config.Rule{
            {
                ID:          "user_ns_change",
                Description: "namespace change by a regular user",
                EventTypes:  []string{"unshare", "setns"},
                MinUid:      &min,
            },
        },
    }

    eng, err := NewEngine(cfg)
    if err != nil {
        t.Fatalf("NewEngine: %v", err)
    }

    root := model.ProcessEvent{Type: model.EventUnshare, Pid: 1, Uid: 0, Comm: "runc"}
    for _, a := range eng.Evaluate(root) {
        if a.RuleID == "user_ns_change" {
            t.Fatalf("rule fired for uid 0: %+v", a)
        }
    }

    user := model.ProcessEvent{Type: model.EventUnshare, Pid: 2, Uid: 1000, Comm: "unshare"}
    found := false
    for _, a := range eng.Evaluate(user) {
        if a.RuleID == "user_ns_change" {
            found = true
        }
    }
    if !found {
        t.Fatalf("expected user_ns_change to fire for uid 1000")
    }
}

func TestBuiltinUnprivilegedNsChange(t *testing.T) {
    cfg := &config.Config{}
    eng, err := NewEngine(cfg)
    if err != nil {
        t.Fatalf("NewEngine: %v", err)
    }

    ev := model.ProcessEvent{
        Timestamp: time.Now(),
        Pid:       1,
        Tid:       1,
        Uid:       1000,
        Type:      model.EventSetns,
        Comm:      "bash",
    }

    alerts := eng.Evaluate(ev)
    var ids []string
    for _, a := range alerts {
        ids = append(ids, a.RuleID)
    }
    want := map[string]bool{"builtin_unprivileged_ns_change": false, "builtin_shell_setns": false}
    for _, id := range ids {
        if _, ok := want[id]; ok {
            want[id] = true
        }
    }
    for id, fired := range want {
        if !fired {
            t.Fatalf("expected %s to fire, got %v", id, ids)
        }
    }
}

func TestUnknownEventTypeRejected(t *testing.T) {
    cfg := &config.Config{
        Rules: []config.Rule{
            {ID: "bad", EventTypes: []string{"open"}},
        },
    }
    if _, err := NewEngine(cfg); err == nil {
        t.Fatalf("expected error for unknown event type")
    }
}
