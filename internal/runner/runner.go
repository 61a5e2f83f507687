package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Zero-Robotics/krill/internal/gpu"
	"github.com/Zero-Robotics/krill/internal/health"
	"github.com/Zero-Robotics/krill/internal/procsup"
	"github.com/Zero-Robotics/krill/internal/recipe"
	"github.com/Zero-Robotics/krill/internal/session"
	"github.com/Zero-Robotics/krill/internal/spawnplan"
)

// messageKind tags the single inbox every external trigger and every
// internal async signal (health verdict, exit event, timer) funnels
// through, so a lone driver goroutine is the one and only writer of runtime
// state (spec.md §5: "Each service's runtime record is written by exactly
// one logical owner: its Service Runner's driver").
type messageKind int

const (
	msgStart messageKind = iota
	msgStop
	msgRestart
	msgKill
	msgVerdict
	msgExit
	msgRestartTimer
	msgHealthyTimer
	msgBeat
)

type message struct {
	kind       messageKind
	verdict    health.Verdict
	exit       procsup.ExitEvent
	reason     string
	gen        int
	beatStatus health.HeartbeatStatus
}

// Runner owns one service's entire lifecycle.
type Runner struct {
	spec       *recipe.ServiceSpec
	globalEnv  map[string]string
	supervisor *procsup.Supervisor
	sess       *session.Session
	emit       Emit
	// restartsForbidden is polled before every restart decision; the
	// orchestrator flips it permanently once emergency stop has fired
	// (spec.md §4.7.2). It is a shared flag, not a pointer to the
	// orchestrator itself, so no cyclic ownership is created.
	restartsForbidden func() bool

	inbox chan message

	mu           sync.Mutex
	state        State
	handle       *procsup.Handle
	monitor      *health.Monitor
	monitorCtx   context.Context
	monitorStop  context.CancelFunc
	ring         *session.Ring
	restartCount int
	lastExit     int
	lastErr      string
	lastBeat     time.Time
	lastHealthy  bool
	healthyGen   int
	processName  string
	pendingRestart bool

	shutdownCtx context.Context
	shutdown    context.CancelFunc
	done        chan struct{}
}

// New constructs a Runner in state Pending. Callers must call Run in its own
// goroutine before issuing any commands.
func New(spec *recipe.ServiceSpec, globalEnv map[string]string, sup *procsup.Supervisor, sess *session.Session, emit Emit, restartsForbidden func() bool) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		spec:              spec,
		globalEnv:         globalEnv,
		supervisor:        sup,
		sess:              sess,
		emit:              emit,
		restartsForbidden: restartsForbidden,
		inbox:             make(chan message, 8),
		state:             StatePending,
		ring:              session.NewRing(512),
		shutdownCtx:       ctx,
		shutdown:          cancel,
		done:              make(chan struct{}),
	}
}

// Run is the driver loop. It must run in its own goroutine for the lifetime
// of the daemon (or until Shutdown is called).
func (r *Runner) Run() {
	defer close(r.done)
	for {
		select {
		case <-r.shutdownCtx.Done():
			return
		case m := <-r.inbox:
			r.handle_(m)
		}
	}
}

// Shutdown tears down the driver loop unconditionally, without running the
// termination ladder — callers are expected to have already issued Stop and
// waited for a terminal state.
func (r *Runner) Shutdown() {
	r.shutdown()
	<-r.done
}

// Start is spec.md §4.7's `start` command: a no-op if already live,
// otherwise a trigger into Starting.
func (r *Runner) Start() { r.post(message{kind: msgStart}) }

// Stop is spec.md §4.7's `stop` command.
func (r *Runner) Stop(reason string) { r.post(message{kind: msgStop, reason: reason}) }

// Restart stops then starts the service, respecting dependency order is the
// orchestrator's job — Restart itself only toggles this one runner.
func (r *Runner) Restart() { r.post(message{kind: msgRestart}) }

// Kill skips the graceful stop plan and goes straight to SIGKILL.
func (r *Runner) Kill() { r.post(message{kind: msgKill}) }

// Beat forwards an IPC heartbeat message to this service's health monitor,
// if it has a heartbeat check and is currently running one (spec.md §6).
func (r *Runner) Beat(status health.HeartbeatStatus) {
	r.post(message{kind: msgBeat, beatStatus: status})
}

func (r *Runner) post(m message) {
	select {
	case r.inbox <- m:
	case <-r.shutdownCtx.Done():
	}
}

// Snapshot returns a copy-on-read view of the runtime record.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := Snapshot{
		Service:       r.spec.Name,
		State:         r.state,
		RestartCount:  r.restartCount,
		LastExitCode:  r.lastExit,
		LastError:     r.lastErr,
		LastHeartbeat: r.lastBeat,
		LastHealthy:   r.lastHealthy,
		ProcessName:   r.processName,
	}
	if r.handle != nil {
		snap.PID = r.handle.Record.PID
		snap.PGID = r.handle.Record.PGID
	}
	return snap
}

// Ring exposes the bounded log buffer for IPC log tailing.
func (r *Runner) Ring() *session.Ring { return r.ring }

func (r *Runner) handle_(m message) {
	switch m.kind {
	case msgStart:
		r.onStartCommand()
	case msgStop:
		r.onStopCommand(m.reason)
	case msgRestart:
		r.mu.Lock()
		r.pendingRestart = true
		r.mu.Unlock()
		r.onStopCommand("restart requested")
	case msgKill:
		r.onKillCommand()
	case msgVerdict:
		r.onVerdict(m.verdict)
	case msgExit:
		r.onExit(m.exit)
	case msgRestartTimer:
		if m.gen == r.restartGen() && r.currentState() == StateFaulted && !r.restartsForbidden() {
			r.beginStart()
		}
	case msgHealthyTimer:
		r.onHealthyTimer(m.gen)
	case msgBeat:
		r.onBeat(m.beatStatus)
	}
}

func (r *Runner) onBeat(status health.HeartbeatStatus) {
	r.mu.Lock()
	m := r.monitor
	r.mu.Unlock()
	if m != nil {
		m.Beat(status)
	}
}

func (r *Runner) setState(to State, reason string) {
	r.mu.Lock()
	from := r.state
	r.state = to
	r.mu.Unlock()

	if from == to {
		return
	}
	r.emit(Event{
		Service:   r.spec.Name,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Reason:    reason,
	})
	_ = r.sess.AppendTimeline(session.TimelineEvent{
		Service:   r.spec.Name,
		From:      string(from),
		To:        string(to),
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

func (r *Runner) emitFaulted(reason string, exhausted bool) {
	r.mu.Lock()
	from := r.state
	r.state = StateFaulted
	r.mu.Unlock()

	r.emit(Event{
		Service:          r.spec.Name,
		From:             from,
		To:               StateFaulted,
		Timestamp:        time.Now(),
		Reason:           reason,
		RestartExhausted: exhausted,
	})
	_ = r.sess.AppendTimeline(session.TimelineEvent{
		Service:   r.spec.Name,
		From:      string(from),
		To:        string(StateFaulted),
		Timestamp: time.Now(),
		Reason:    reason,
	})
}

func (r *Runner) currentState() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// onStartCommand handles both the orchestrator's initial layer-by-layer
// start and a later manual `start` command. Idempotent per spec.md §8
// property 6: starting a Running/Healthy service is a no-op.
func (r *Runner) onStartCommand() {
	switch r.currentState() {
	case StateRunning, StateHealthy, StateDegraded, StateStarting:
		return // already live
	case StatePending, StateFaulted, StateStopped, StateCompleted:
		r.beginStart()
	}
}

func (r *Runner) beginStart() {
	if r.spec.GPU && !gpu.Available() {
		r.setState(StateStarting, "")
		r.emitFaulted("gpu precondition failed: no GPU available", true)
		return
	}

	r.setState(StateStarting, "")

	plan, err := spawnplan.Build(r.globalEnv, r.spec)
	if err != nil {
		r.emitFaulted(fmt.Sprintf("command builder: %s", err), true)
		return
	}

	h, err := r.supervisor.Spawn(r.spec.Name, plan.Program, plan.Args, plan.Cwd, plan.Env, r.ring)
	if err != nil {
		r.emitFaulted(fmt.Sprintf("spawn failed: %s", err), true)
		return
	}

	r.mu.Lock()
	r.handle = h
	r.processName = h.Record.Name
	r.mu.Unlock()

	go r.forwardExit(h)

	if r.spec.Health != nil {
		ctx, cancel := context.WithCancel(r.shutdownCtx)
		m := health.New(r.spec.Health, "localhost")

		r.mu.Lock()
		r.monitor = m
		r.monitorCtx = ctx
		r.monitorStop = cancel
		r.mu.Unlock()

		go m.Run(ctx)
		go r.forwardVerdicts(m)

		r.setState(StateRunning, "")
	} else {
		r.setState(StateRunning, "")
	}
}

func (r *Runner) forwardExit(h *procsup.Handle) {
	select {
	case ev := <-h.Exit():
		r.post(message{kind: msgExit, exit: ev})
	case <-r.shutdownCtx.Done():
	}
}

func (r *Runner) forwardVerdicts(m *health.Monitor) {
	for {
		select {
		case v, ok := <-m.Verdicts():
			if !ok {
				return
			}
			r.post(message{kind: msgVerdict, verdict: v})
		case <-r.shutdownCtx.Done():
			return
		}
	}
}

func (r *Runner) teardownMonitor() {
	r.mu.Lock()
	stop := r.monitorStop
	r.monitor = nil
	r.monitorStop = nil
	r.mu.Unlock()
	if stop != nil {
		stop()
	}
}

func (r *Runner) onVerdict(v health.Verdict) {
	state := r.currentState()
	if !state.HasProcess() {
		return // stale verdict from a torn-down incarnation
	}

	if v.Err != nil {
		r.mu.Lock()
		r.lastErr = v.Err.Error()
		r.mu.Unlock()
	}
	r.mu.Lock()
	if r.spec.Health != nil && r.spec.Health.Kind == recipe.HealthHeartbeat {
		r.lastBeat = time.Now()
	}
	r.lastHealthy = v.Healthy
	r.mu.Unlock()

	switch {
	case v.Healthy:
		prev := state
		r.setState(StateHealthy, "")
		if prev != StateHealthy {
			r.armHealthyTimer()
		}
	case v.Degraded:
		r.setState(StateDegraded, "heartbeat reported degraded status")
	default:
		threshold := health.FailureThreshold(r.spec.Health)
		switch state {
		case StateHealthy:
			r.setState(StateDegraded, "health probe failed")
		case StateDegraded, StateRunning:
			if v.ConsecutiveFailures >= threshold {
				r.failAndDecideRestart("health check failed beyond recovery")
			}
		}
	}
}

func (r *Runner) armHealthyTimer() {
	r.mu.Lock()
	r.healthyGen++
	gen := r.healthyGen
	r.mu.Unlock()

	go func() {
		select {
		case <-time.After(60 * time.Second):
			r.post(message{kind: msgHealthyTimer, gen: gen})
		case <-r.shutdownCtx.Done():
		}
	}()
}

func (r *Runner) onHealthyTimer(gen int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// spec.md §4.4: "if the service stays in Healthy continuously for 60
	// seconds, restart_count resets to zero." A stale generation means the
	// service left Healthy before the window elapsed.
	if r.state == StateHealthy && gen == r.healthyGen {
		r.restartCount = 0
	}
}

func (r *Runner) onExit(ev procsup.ExitEvent) {
	state := r.currentState()
	if !state.HasProcess() {
		return // already torn down (e.g. we initiated Stop ourselves)
	}

	r.teardownMonitor()
	r.mu.Lock()
	r.handle = nil
	r.lastExit = ev.ExitCode
	if ev.Err != nil {
		r.lastErr = ev.Err.Error()
	} else if ev.Signal != "" {
		r.lastErr = fmt.Sprintf("terminated by signal %s", ev.Signal)
	}
	r.mu.Unlock()

	if state == StateStopping {
		r.setState(StateStopped, "")
		r.maybeResumeRestart()
		return
	}

	if ev.ExitCode == 0 && ev.Signal == "" && ev.Err == nil {
		r.setState(StateCompleted, "")
		return
	}

	reason := fmt.Sprintf("exit code %d", ev.ExitCode)
	if ev.Signal != "" {
		reason = fmt.Sprintf("terminated by signal %s", ev.Signal)
	}
	r.failAndDecideRestart(reason)
}

// failAndDecideRestart enters Faulted and applies the restart policy (spec.md
// §4.4 "Restart decision (evaluated on entry to Faulted)").
func (r *Runner) failAndDecideRestart(reason string) {
	r.teardownMonitor()

	if r.restartsForbidden() {
		r.emitFaulted(reason, true)
		return
	}

	restart, exhausted := r.restartDecision()
	if !restart {
		if exhausted {
			r.emitFaulted(reason, true)
			r.setState(StateStopped, "restart policy exhausted")
		} else {
			r.emitFaulted(reason, false)
		}
		return
	}

	r.emitFaulted(reason, false)

	r.mu.Lock()
	r.restartCount++
	gen := r.restartGenLocked()
	r.mu.Unlock()

	delay := r.spec.Restart.RestartDelay
	go func() {
		select {
		case <-time.After(delay):
			r.post(message{kind: msgRestartTimer, gen: gen})
		case <-r.shutdownCtx.Done():
		}
	}()
}

// restartGen tags a scheduled restart timer with the restartCount it was
// armed at, so a timer armed before a later failure (which increments the
// count) is ignored. restartCount is not monotonic (the 60-second Healthy
// rule resets it to zero), so msgRestartTimer also requires the runner to be
// still Faulted and restarts not to be forbidden before it acts; a manual
// start, stop or restart issued during the delay therefore supersedes it.
func (r *Runner) restartGen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.restartGenLocked()
}

func (r *Runner) restartGenLocked() int { return r.restartCount }

// restartDecision implements spec.md §4.4's table. Faulted is only entered
// via a failure path (nonzero exit, signal, or health breach — a clean exit
// goes straight to Completed instead), so "on-failure" and "always" behave
// identically here; the mode is still switched on explicitly to keep the
// policy legible and to leave room for a future non-failure trigger.
func (r *Runner) restartDecision() (restart bool, exhausted bool) {
	policy := r.spec.Restart
	switch policy.Mode {
	case recipe.RestartNever:
		return false, true
	case recipe.RestartAlways, recipe.RestartOnFailure:
		r.mu.Lock()
		count := r.restartCount
		r.mu.Unlock()
		if policy.MaxRestarts > 0 && count >= policy.MaxRestarts {
			return false, true
		}
		return true, false
	default:
		return false, true
	}
}

// onStopCommand handles spec.md §4.7's `stop`: idempotent on an
// already-Stopped service (spec.md §8 property 6). A Pending service has no
// process and moves straight to Stopped (e.g. a dependent cascaded before it
// was ever started).
func (r *Runner) onStopCommand(reason string) {
	state := r.currentState()
	if state == StateStopped || state == StateCompleted {
		return
	}

	r.teardownMonitor()
	r.setState(StateStopping, reason)

	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		r.setState(StateStopped, reason)
		r.maybeResumeRestart()
		return
	}

	stopProgram, stopArgs, stopCwd, stopEnv := r.stopPlan()
	stopTimeout := r.spec.Restart.StopTimeout

	go func() {
		_ = r.supervisor.Stop(h, stopProgram, stopArgs, stopCwd, stopEnv, stopTimeout)
		// The exit event from the same handle's forwardExit goroutine delivers
		// msgExit, which finishes the transition to Stopped.
	}()
}

// maybeResumeRestart completes a manual `restart` command once the stop half
// has settled into Stopped (spec.md §4.7: "restart <svc> (stop then start)").
func (r *Runner) maybeResumeRestart() {
	r.mu.Lock()
	pending := r.pendingRestart
	r.pendingRestart = false
	r.mu.Unlock()
	if pending {
		r.beginStart()
	}
}

func (r *Runner) onKillCommand() {
	state := r.currentState()
	if state == StateStopped || state == StateCompleted || state == StatePending {
		return
	}

	r.teardownMonitor()
	r.setState(StateStopping, "kill requested")

	r.mu.Lock()
	h := r.handle
	r.mu.Unlock()
	if h == nil {
		r.setState(StateStopped, "kill requested")
		return
	}

	go func() {
		_ = r.supervisor.Kill(h)
	}()
}

func (r *Runner) stopPlan() (program string, args []string, cwd string, env []string) {
	plan, err := spawnplan.Build(r.globalEnv, r.spec)
	if err != nil || plan.Stop == nil {
		return "", nil, "", nil
	}
	return plan.Stop.Program, plan.Stop.Args, plan.Stop.Cwd, plan.Stop.Env
}
