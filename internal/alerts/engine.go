package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/pkg/types"
)

// State is the lifecycle position of an Alert.
type State string

const (
	StateFiring   State = "firing"
	StateResolved State = "resolved"
)

const (
	defaultCooldown = 15 * time.Minute
	defaultSeverity = "warning"
	historyLimit    = 200
	recentWindow    = time.Hour
)

// Alert is one firing of a rule against one adapter.
type Alert struct {
	ID         string     `json:"id"`
	RuleName   string     `json:"rule_name"`
	AdapterID  string     `json:"adapter_id"`
	Severity   string     `json:"severity"`
	Condition  string     `json:"condition"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      State      `json:"state"`
}

// Source supplies the statuses evaluated on every tick. *health.Registry
// satisfies it.
type Source interface {
	AllHealthStatuses() []types.AdapterHealthStatus
}

type rule struct {
	name     string
	severity string
	cooldown time.Duration
	cond     condition
}

// alertKey deduplicates alerts: one rule fires at most once per adapter.
type alertKey struct{ rule, adapter string }

// Engine evaluates rules against adapter statuses and notifies webhooks when
// an alert fires or resolves. It is safe for concurrent use.
type Engine struct {
	rules     []rule
	notifiers []notifier
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	firing   map[alertKey]*Alert
	lastFire map[alertKey]time.Time
	resolved []*Alert // oldest first, bounded by historyLimit

	inflight sync.WaitGroup
}

// New compiles the configured rules and webhooks. Rules whose condition
// does not parse are logged and skipped, as are webhooks whose URL
// variable is unset.
func New(cfg config.AlertsConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		logger:   logger.With("component", "alerts"),
		now:      time.Now,
		firing:   make(map[alertKey]*Alert),
		lastFire: make(map[alertKey]time.Time),
	}

	for _, r := range cfg.Rules {
		cond, err := parseCondition(r.Condition)
		if err != nil {
			e.logger.Warn("alerts: rule will never fire", "rule", r.Name, "err", err)
			continue
		}
		compiled := rule{name: r.Name, severity: r.Severity, cooldown: r.Cooldown, cond: cond}
		if compiled.severity == "" {
			compiled.severity = defaultSeverity
		}
		if compiled.cooldown <= 0 {
			compiled.cooldown = defaultCooldown
		}
		e.rules = append(e.rules, compiled)
	}

	for _, wh := range cfg.Webhooks {
		n, err := newNotifier(wh)
		if err != nil {
			e.logger.Warn("alerts: webhook disabled", "type", wh.Type, "url_env", wh.URLEnv, "err", err)
			continue
		}
		e.notifiers = append(e.notifiers, n)
	}
	return e
}

// Evaluate applies every rule to st. A rule that holds fires a new alert
// unless the same rule fired for the adapter within its cooldown; a firing
// alert whose rule no longer holds is resolved. Notifications are sent in
// the background.
func (e *Engine) Evaluate(st types.AdapterHealthStatus) {
	if len(e.rules) == 0 {
		return
	}
	now := e.now()

	var changed []Alert
	e.mu.Lock()
	for _, r := range e.rules {
		key := alertKey{rule: r.name, adapter: st.AdapterID}
		holds, value := r.cond.eval(st)

		switch {
		case holds && now.Sub(e.lastFire[key]) > r.cooldown:
			a := &Alert{
				ID:        uuid.NewString(),
				RuleName:  r.name,
				AdapterID: st.AdapterID,
				Severity:  r.severity,
				Condition: r.cond.String(),
				Value:     value,
				Message:   fmt.Sprintf("%s on %s: %s (value %.2f)", r.name, st.AdapterID, r.cond, value),
				FiredAt:   now,
				State:     StateFiring,
			}
			e.firing[key] = a
			e.lastFire[key] = now
			changed = append(changed, *a)

		case !holds:
			a, ok := e.firing[key]
			if !ok {
				continue
			}
			delete(e.firing, key)
			at := now
			a.State, a.ResolvedAt = StateResolved, &at
			e.resolved = append(e.resolved, a)
			if n := len(e.resolved); n > historyLimit {
				e.resolved = e.resolved[n-historyLimit:]
			}
			changed = append(changed, *a)
		}
	}
	e.mu.Unlock()

	for i := range changed {
		a := &changed[i]
		if a.State == StateFiring {
			e.logger.Warn("alerts: alert fired", "rule", a.RuleName, "adapter", a.AdapterID, "value", a.Value, "severity", a.Severity)
		} else {
			e.logger.Info("alerts: alert resolved", "rule", a.RuleName, "adapter", a.AdapterID)
		}
		e.notify(a)
	}
}

// Run evaluates every status from src immediately and then every interval
// until ctx is cancelled. Validity is computed on read, so an adapter that
// stopped reporting still trips validity and status rules. Run returns once
// pending notifications are done.
func (e *Engine) Run(ctx context.Context, src Source, interval time.Duration) {
	defer e.inflight.Wait()

	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		for _, st := range src.AllHealthStatuses() {
			e.Evaluate(st)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// Active returns copies of the firing alerts and of those resolved within
// the last hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindow)
	out := make([]*Alert, 0, len(e.firing))
	for _, a := range e.firing {
		cp := *a
		out = append(out, &cp)
	}
	for i := len(e.resolved) - 1; i >= 0; i-- {
		a := e.resolved[i]
		if !a.ResolvedAt.After(cutoff) {
			break
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of alerts currently firing.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.firing)
}
