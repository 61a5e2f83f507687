package tui

import (
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/Zero-Robotics/krill/internal/ipc"
)

// snapshotPollInterval covers the get_snapshot refresh while a
// DashboardModel is otherwise driven by the live event stream — a
// belt-and-braces refresh in case an event is ever missed.
const snapshotPollInterval = 5 * time.Second

// RunDashboard drives `krillctl ps --watch`: a live Bubble Tea table when
// stdout is a terminal (golang.org/x/term.IsTerminal, a teacher dependency
// reused here exactly as the teacher gates its own colored output), or a
// plain polling table otherwise so `krillctl ps --watch | tee log` still
// produces readable output.
func RunDashboard(socketPath string) error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPlainDashboard(socketPath)
	}

	snapshotClient, err := ipc.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("tui: connect to daemon: %w", err)
	}
	defer snapshotClient.Close()

	eventClient, err := ipc.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("tui: connect to daemon: %w", err)
	}
	defer eventClient.Close()
	if err := eventClient.SubscribeEvents(); err != nil {
		return fmt.Errorf("tui: subscribe to events: %w", err)
	}

	p := tea.NewProgram(NewDashboardModel())

	go pumpSnapshots(p, snapshotClient)
	go pumpEvents(p, eventClient)

	_, err = p.Run()
	return err
}

func pumpSnapshots(p *tea.Program, client *ipc.Client) {
	ticker := time.NewTicker(snapshotPollInterval)
	defer ticker.Stop()

	send := func() {
		snap, err := client.GetSnapshot()
		if err != nil {
			p.Send(errMsg{err: err})
			return
		}
		p.Send(snapshotMsg{services: snap.Services})
	}

	send()
	for range ticker.C {
		send()
	}
}

func pumpEvents(p *tea.Program, client *ipc.Client) {
	for {
		env, ok, err := client.Recv()
		if err != nil || !ok {
			if err != nil {
				p.Send(errMsg{err: err})
			}
			return
		}
		if env.Type == ipc.TypeEvent && env.Event != nil {
			p.Send(eventMsg{event: *env.Event})
		}
	}
}

// runPlainDashboard is the non-TTY fallback: a polling table printed once
// per refresh, no cursor control, no colors.
func runPlainDashboard(socketPath string) error {
	client, err := ipc.Dial(socketPath)
	if err != nil {
		return fmt.Errorf("tui: connect to daemon: %w", err)
	}
	defer client.Close()

	ticker := time.NewTicker(snapshotPollInterval)
	defer ticker.Stop()

	printOnce := func() error {
		snap, err := client.GetSnapshot()
		if err != nil {
			return err
		}
		fmt.Printf("%-20s %-10s %8s %9s\n", "SERVICE", "STATE", "PID", "RESTARTS")
		for _, s := range snap.Services {
			pid := ""
			if s.PID != 0 {
				pid = fmt.Sprintf("%d", s.PID)
			}
			fmt.Printf("%-20s %-10s %8s %9d\n", s.Service, s.State, pid, s.RestartCount)
		}
		fmt.Println()
		return nil
	}

	if err := printOnce(); err != nil {
		return err
	}
	for range ticker.C {
		if err := printOnce(); err != nil {
			return err
		}
	}
	return nil
}
