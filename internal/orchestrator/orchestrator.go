// Package orchestrator implements spec.md §4.7: the graph-wide controller
// that owns every Service Runner, drives startup in dependency order,
// applies cascade/emergency-stop fault policy, drives graceful shutdown, and
// serves the external command surface the IPC layer exposes. Grounded in
// the teacher's DockerOrchestrator/ProcessManager composition root
// (cmd/orchestrator/docker_orchestrator.go), generalized from "start these
// containers" into dependency-ordered, health-aware orchestration of the
// four execution recipe variants.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Zero-Robotics/krill/internal/depgraph"
	"github.com/Zero-Robotics/krill/internal/health"
	"github.com/Zero-Robotics/krill/internal/klog"
	"github.com/Zero-Robotics/krill/internal/procsup"
	"github.com/Zero-Robotics/krill/internal/recipe"
	"github.com/Zero-Robotics/krill/internal/runner"
	"github.com/Zero-Robotics/krill/internal/session"
)

// ErrUnknownService is returned by Dispatch for a target not present in the
// loaded recipe.
var ErrUnknownService = errors.New("unknown service")

// ErrUnknownCommand is returned by Dispatch for an action the external
// command surface does not recognize (spec.md §4.7).
var ErrUnknownCommand = errors.New("unknown command")

// pollInterval is how often dependency-condition and terminal-state waits
// re-check a runner's snapshot. Cheap relative to process spawn/probe
// latency, so a fixed poll is simpler than threading per-condition
// notification channels through every runner.
const pollInterval = 50 * time.Millisecond

// Orchestrator is the sole mutator of the service-name → runner map
// (design note §9: "exactly one process-wide mutable structure").
type Orchestrator struct {
	recipe *recipe.Recipe
	graph  *depgraph.Graph
	sess   *session.Session
	sup    *procsup.Supervisor
	bus    *bus

	runners   map[string]*runner.Runner
	emergency atomic.Bool

	shutdownCtx context.Context
	cancel      context.CancelFunc
}

// New builds the dependency graph, constructs one Runner per service, and
// starts each runner's driver loop. Services are Pending until Up is called.
func New(rec *recipe.Recipe, sess *session.Session) (*Orchestrator, error) {
	g, err := depgraph.Build(rec)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		recipe:      rec,
		graph:       g,
		sess:        sess,
		sup:         procsup.New(rec.Name, sess),
		bus:         newBus(),
		runners:     make(map[string]*runner.Runner, len(rec.Services)),
		shutdownCtx: ctx,
		cancel:      cancel,
	}

	for name, spec := range rec.Services {
		r := runner.New(spec, rec.Env, o.sup, sess, o.onRunnerEvent, o.emergency.Load)
		o.runners[name] = r
		go r.Run()
	}

	return o, nil
}

func (o *Orchestrator) onRunnerEvent(ev runner.Event) {
	o.bus.publish(ev)
	klog.Info("%s: %s -> %s%s", ev.Service, ev.From, ev.To, reasonSuffix(ev.Reason))

	if ev.To == runner.StateFaulted && ev.RestartExhausted {
		go o.handleFault(ev.Service)
	}
}

func reasonSuffix(reason string) string {
	if reason == "" {
		return ""
	}
	return fmt.Sprintf(" (%s)", reason)
}

// Up runs spec.md §4.7's startup sequence: layer by layer, each service in a
// layer waits for its declared dependency conditions before Start is called;
// the orchestrator proceeds to the next layer only once every wait+start in
// the current layer has been issued, not once those services are Healthy.
func (o *Orchestrator) Up(ctx context.Context) {
	for _, layer := range o.graph.StartupLayers() {
		var wg sync.WaitGroup
		for _, name := range layer {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				o.waitDependencies(ctx, name)
				o.runners[name].Start()
			}(name)
		}
		wg.Wait()
	}
}

func (o *Orchestrator) waitDependencies(ctx context.Context, name string) {
	for _, edge := range o.graph.Dependencies(name) {
		o.waitCondition(ctx, edge.Target, edge.Condition)
	}
}

// waitCondition blocks until target's runner satisfies cond, or until ctx or
// the orchestrator's shutdown context is done. If target never resolves (e.g.
// it faults before ever becoming Healthy), the dependent is never
// force-started: it stays in Pending until a cascade stop moves it to
// Stopped, or until the wait is canceled.
func (o *Orchestrator) waitCondition(ctx context.Context, target string, cond recipe.Condition) {
	r, ok := o.runners[target]
	if !ok {
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		st := r.Snapshot().State
		switch cond {
		case recipe.ConditionHealthy:
			if st.SatisfiesHealthy() {
				return
			}
		default: // recipe.ConditionStarted
			if st.SatisfiesStarted() {
				return
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-o.shutdownCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) waitTerminal(ctx context.Context, name string) {
	r, ok := o.runners[name]
	if !ok {
		return
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if !r.Snapshot().State.HasProcess() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// handleFault applies spec.md §4.7's fault policy once a runner has
// exhausted its restart budget (or failed a non-retryable precondition).
func (o *Orchestrator) handleFault(service string) {
	spec, ok := o.recipe.Services[service]
	if !ok {
		return
	}

	if spec.Critical {
		o.EmergencyStop(fmt.Sprintf("critical service %q exhausted its restart budget", service))
		return
	}

	o.cascade(service)
}

// cascade stops every transitive dependent of failed, in reverse-dependency
// (shutdown-layer) order, so the most-dependent services stop before the
// ones they depend on (spec.md §4.3, §4.7).
func (o *Orchestrator) cascade(failed string) {
	members := make(map[string]bool)
	for _, name := range o.graph.CascadeSet(failed) {
		members[name] = true
	}
	if len(members) == 0 {
		return
	}

	klog.Warn("cascading stop from faulted service %q to %d dependent(s)", failed, len(members))

	for _, layer := range o.graph.ShutdownLayers() {
		var wg sync.WaitGroup
		for _, name := range layer {
			if !members[name] {
				continue
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				o.runners[name].Stop(fmt.Sprintf("cascaded from faulted service %q", failed))
				o.waitTerminal(o.shutdownCtx, name)
			}(name)
		}
		wg.Wait()
	}
}

// restart serves spec.md §4.7's `restart <svc>` command: "stop then start,
// respecting dependencies in both directions." Stopping cascades to every
// transitive dependent first (the same set and ordering `cascade` uses for a
// fault), so nothing is left depending on a service mid-restart; starting
// re-runs the target's own waitDependencies, so it does not come back up
// until its dependencies are still satisfied. Dependents are left stopped —
// restart only promises the named service comes back, not that its
// dependents are brought back up behind it.
func (o *Orchestrator) restart(target string) {
	members := map[string]bool{target: true}
	for _, name := range o.graph.CascadeSet(target) {
		members[name] = true
	}

	for _, layer := range o.graph.ShutdownLayers() {
		var wg sync.WaitGroup
		for _, name := range layer {
			if !members[name] {
				continue
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				o.runners[name].Stop(fmt.Sprintf("restarting %q", target))
				o.waitTerminal(o.shutdownCtx, name)
			}(name)
		}
		wg.Wait()
	}

	o.waitDependencies(o.shutdownCtx, target)
	o.runners[target].Start()
}

// EmergencyStop is spec.md §4.7.2: irreversible within this daemon's
// lifetime, triggered once, stops every running service in shutdown-layer
// order, and permanently forbids further automatic restarts.
func (o *Orchestrator) EmergencyStop(reason string) {
	if !o.emergency.CompareAndSwap(false, true) {
		return // already armed; emergency stop fires exactly once per incident
	}

	klog.Error("EMERGENCY STOP: %s", reason)
	_ = o.sess.AppendTimeline(session.TimelineEvent{
		Reason:    reason,
		To:        "EmergencyStop",
		Timestamp: time.Now(),
	})

	for _, layer := range o.graph.ShutdownLayers() {
		var wg sync.WaitGroup
		for _, name := range layer {
			r := o.runners[name]
			if !r.Snapshot().State.HasProcess() {
				continue
			}
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				o.runners[name].Stop("emergency stop: " + reason)
				o.waitTerminal(o.shutdownCtx, name)
			}(name)
		}
		wg.Wait()
	}
}

// Down drives spec.md §4.7's graceful shutdown: shutdown-layer order,
// awaiting each layer before beginning the next. Triggered by SIGINT/SIGTERM
// to the daemon or the `stop_daemon` command.
func (o *Orchestrator) Down(ctx context.Context) {
	for _, layer := range o.graph.ShutdownLayers() {
		var wg sync.WaitGroup
		for _, name := range layer {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				o.runners[name].Stop("graceful shutdown")
				o.waitTerminal(ctx, name)
			}(name)
		}
		wg.Wait()
	}
}

// Close stops every runner's driver loop. Call only after Down has settled
// every service into a terminal state.
func (o *Orchestrator) Close() {
	o.cancel()
	for _, r := range o.runners {
		r.Shutdown()
	}
}

// Dispatch serves spec.md §4.7's external command surface: start, stop,
// restart, kill, stop_daemon.
func (o *Orchestrator) Dispatch(action, target string) error {
	if action == "stop_daemon" {
		go o.Down(context.Background())
		return nil
	}

	r, ok := o.runners[target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownService, target)
	}

	switch action {
	case "start":
		r.Start()
	case "stop":
		r.Stop("operator requested stop")
	case "restart":
		go o.restart(target)
	case "kill":
		r.Kill()
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, action)
	}
	return nil
}

// Beat forwards an IPC heartbeat message to the named service's monitor.
func (o *Orchestrator) Beat(service string, status health.HeartbeatStatus) bool {
	r, ok := o.runners[service]
	if !ok {
		return false
	}
	r.Beat(status)
	return true
}

// Snapshots returns every service's runtime record, in declared order.
func (o *Orchestrator) Snapshots() []runner.Snapshot {
	out := make([]runner.Snapshot, 0, len(o.recipe.ServiceOrder))
	for _, name := range o.recipe.ServiceOrder {
		if r, ok := o.runners[name]; ok {
			out = append(out, r.Snapshot())
		}
	}
	return out
}

// Ring returns the bounded log ring for service, for IPC log tailing.
func (o *Orchestrator) Ring(service string) (*session.Ring, bool) {
	r, ok := o.runners[service]
	if !ok {
		return nil, false
	}
	return r.Ring(), true
}

// Subscribe registers a new event-bus consumer.
func (o *Orchestrator) Subscribe() (int, <-chan runner.Event) { return o.bus.subscribe() }

// Unsubscribe removes a previously registered consumer.
func (o *Orchestrator) Unsubscribe(id int) { o.bus.unsubscribe(id) }
