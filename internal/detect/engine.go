package detect

import (
    "fmt"
    "regexp"
    "strings"
    "time"

    "github.com/USSURATONCACHI/net-device-mapping/internal/config"
    "github.com/USSURATONCACHI/net-device-mapping/internal/model"
)

type Alert struct {
    Timestamp   time.Time          `json:"timestamp"`
    RuleID      string             `json:"rule_id"`
    Description string             `json:"description"`
    EventType   model.EventType    `json:"event_type"`
    Event       model.ProcessEvent `json:"event"`
}

type compiledRule struct {
    id          string
    description string
    eventTypes  map[model.EventType]struct{}

    commRe *regexp.Regexp

    minUid *uint32
    maxUid *uint32
}

type Engine struct {
    rules []*compiledRule
}

func NewEngine(cfg *config.Config) (*Engine, error) {
    var compiled []*compiledRule
    for _, r := range cfg.Rules {
        cr := &compiledRule{
            id:          r.ID,
            description: r.Description,
            eventTypes:  map[model.EventType]struct{}{},
            minUid:      r.MinUid,
            maxUid:      r.MaxUid,
        }
        if cr.id == "" {
            return nil, fmt.Errorf("rule without id")
        }
        if len(r.EventTypes) == 0 {
            return nil, fmt.Errorf("rule %s has no event_types", r.ID)
        }
        for _, et := range r.EventTypes {
            switch strings.ToLower(et) {
            case "fork":
                cr.eventTypes[model.EventFork] = struct{}{}
            case "exec":
                cr.eventTypes[model.EventExec] = struct{}{}
            case "exit":
                cr.eventTypes[model.EventExit] = struct{}{}
            case "clone":
                cr.eventTypes[model.EventClone] = struct{}{}
            case "unshare":
                cr.eventTypes[model.EventUnshare] = struct{}{}
            case "setns":
                cr.eventTypes[model.EventSetns] = struct{}{}
            default:
                return nil, fmt.Errorf("rule %s has unknown event_type %q", r.ID, et)
            }
        }
        if r.CommRegex != "" {
            re, err := regexp.Compile(r.CommRegex)
            if err != nil {
                return nil, fmt.Errorf("rule %s comm_regex: %w", r.ID, err)
            }
            cr.commRe = re
        }
        compiled = append(compiled, cr)
    }
    return &Engine{rules: compiled}, nil
}

func (e *Engine) Evaluate(ev model.ProcessEvent) []Alert {
    var alerts []Alert

    // Built-in heuristics
    alerts = append(alerts, builtinHeuristics(ev)...)

    // Configured rules
    for _, r := range e.rules {
        if _, ok := r.eventTypes[ev.Type]; !ok {
            continue
        }
        if r.commRe != nil && !r.commRe.MatchString(ev.Comm) {
            continue
        }
        if r.minUid != nil && ev.Uid < *r.minUid {
            continue
        }
        if r.maxUid != nil && ev.Uid > *r.maxUid {
            continue
        }

        alerts = append(alerts, Alert{
            Timestamp:   time.Now().UTC(),
            RuleID:      r.id,
            Description: r.description,
            EventType:   ev.Type,
            Event:       ev,
        })
    }

    return alerts
}

func builtinHeuristics(ev model.ProcessEvent) []Alert {
    var alerts []Alert

    // Namespace manipulation from an unprivileged user
    if (ev.Type == model.EventUnshare || ev.Type == model.EventSetns) && ev.Uid != 0 {
        alerts = append(alerts, Alert{
            Timestamp:   time.Now().UTC(),
            RuleID:      "builtin_unprivileged_ns_change",
            Description: "Namespace change by a non-root process",
            EventType:   ev.Type,
            Event:       ev,
        })
    }

    // Shells joining namespaces look like manual container entry
    if ev.Type == model.EventSetns && looksLikeShell(ev.Comm) {
        alerts = append(alerts, Alert{
            Timestamp:   time.Now().UTC(),
            RuleID:      "builtin_shell_setns",
            Description: "Shell joined an existing namespace",
            EventType:   ev.Type,
            Event:       ev,
        })
    }

    return alerts
}

func looksLikeShell(s string) bool {
    s = strings.ToLower(s)
    return strings.Contains(s, "bash") ||
        s == "sh" ||
        strings.Contains(s, "zsh") ||
        strings.Contains(s, "ksh") ||
        strings.Contains(s, "dash")
}
