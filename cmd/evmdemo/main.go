// Command evmdemo drives the event machine and system timer against the
// host simulation in package sim and renders their live state in a
// terminal UI, the same way a hardware monitor renders a running CPU's
// registers and disassembly. It carries no core semantics of its own,
// only wiring and presentation.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/gomsp430/evm/event"
	"github.com/gomsp430/evm/sim"
	"github.com/gomsp430/evm/systimer"
)

// Demo event ids, lowest first so it dispatches highest priority.
const (
	evButton        event.ID = iota // simulated external input, highest priority
	evBlink                         // toggled by a repeating task timer
	evFeedWatchdog                  // periodic watchdog-feed task, in the style of timers.c
	evTick                          // system timer's tick event
	evCount
)

func main() {
	tickMS := flag.Int("tick-ms", 1, "hardware tick period in milliseconds")
	maxTimers := flag.Int("max-timers", 4, "maximum simultaneously active user timers")
	flag.Parse()

	refreshMsgs := make(chan tea.Msg, 16)

	plat := sim.New(time.Duration(*tickMS) * time.Millisecond)

	machine := event.NewMachine(plat, int(evCount),
		event.WithBeforeSleep(func() { refreshMsgs <- sleepMsg{sleeping: true} }),
		event.WithAfterSleep(func() { refreshMsgs <- sleepMsg{sleeping: false} }),
	)

	timer := systimer.New(machine, evTick, plat,
		systimer.WithMaxUserTimers(*maxTimers),
		systimer.WithTickMS(uint16(*tickMS)),
	)
	timer.RegisterFailCallback(func() {
		refreshMsgs <- logMsg{text: "timer table full, request dropped"}
	})
	plat.OnTick(timer.OnHWTick)

	blinkState := false
	machine.Register(evButton, func() {
		refreshMsgs <- logMsg{text: "button: acknowledged"}
	})
	machine.Register(evBlink, func() {
		blinkState = !blinkState
		refreshMsgs <- logMsg{text: fmt.Sprintf("blink: %v", blinkState)}
	})
	machine.Register(evFeedWatchdog, func() {
		refreshMsgs <- logMsg{text: "watchdog: fed"}
	})

	// Single-shot: fires once, 3 seconds after startup.
	timer.New(3000, func() {
		refreshMsgs <- logMsg{text: "boot delay elapsed"}
	})

	// Repeating task: blinks every 250ms for 10 iterations, then stops —
	// the shape of the original's one_sec_tick/feed_the_dog pair, without
	// the watchdog register poke itself (a peripheral driver, not this
	// runtime's concern).
	const blinkIterations = 10
	count := 0
	timer.NewTask(250, func(id int, latency uint16) uint16 {
		count++
		machine.Set(evBlink)
		if count >= blinkIterations {
			return 0
		}
		return systimer.OffsetLatency(250, latency)
	}, 0)

	timer.NewTask(1000, func(id int, latency uint16) uint16 {
		machine.Set(evFeedWatchdog)
		return systimer.OffsetLatency(1000, latency)
	}, 1)

	go machine.Run()

	m := newModel(machine, timer, refreshMsgs)
	p := tea.NewProgram(m)
	go func() {
		for msg := range refreshMsgs {
			p.Send(msg)
		}
	}()

	if _, err := p.Run(); err != nil {
		log.Fatal(err)
	}
}

type sleepMsg struct{ sleeping bool }
type logMsg struct{ text string }
type tickMsg time.Time

func doRefresh() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	sleeping  = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	titleStyle = lipgloss.NewStyle().Foreground(subtle).Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(highlight).
			Padding(1).
			Width(40)

	sleepingStyle = lipgloss.NewStyle().Foreground(sleeping).Bold(true)
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
)

type model struct {
	machine *event.Machine
	timer   *systimer.Timer
	refresh <-chan tea.Msg

	isSleeping bool
	log        []string
}

func newModel(machine *event.Machine, timer *systimer.Timer, refresh <-chan tea.Msg) model {
	return model{machine: machine, timer: timer, refresh: refresh}
}

func (m model) Init() tea.Cmd {
	return doRefresh()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "b":
			m.machine.Set(evButton)
		case "r":
			m.timer.Renew(3000, func() {}) // demonstrates Renew: the first press becomes a New; pressing again before it fires defers that same instance
		}
	case sleepMsg:
		m.isSleeping = msg.sleeping
	case logMsg:
		m.log = append(m.log, msg.text)
		if len(m.log) > 8 {
			m.log = m.log[len(m.log)-8:]
		}
	case tickMsg:
		return m, doRefresh()
	}
	return m, nil
}

func (m model) View() string {
	var mask strings.Builder
	current := m.machine.Mask()
	for i := m.machine.Count() - 1; i >= 0; i-- {
		if current&(1<<uint(i)) != 0 {
			mask.WriteString(pendingStyle.Render("1"))
		} else {
			mask.WriteString("0")
		}
	}

	var timers strings.Builder
	for i, s := range m.timer.Snapshot() {
		if !s.Active {
			fmt.Fprintf(&timers, "slot %d: free\n", i)
			continue
		}
		kind := "oneshot"
		if s.IsTask {
			kind = fmt.Sprintf("task id=%d", s.ID)
		}
		fmt.Fprintf(&timers, "slot %d: %s, %dms left\n", i, kind, s.RemainingMS)
	}

	state := "awake"
	if m.isSleeping {
		state = sleepingStyle.Render("asleep (LPM)")
	}

	left := panelStyle.Render(fmt.Sprintf(
		"%s\n\nmask: %s\ncpu: %s",
		titleStyle.Render("event machine"), mask.String(), state,
	))
	right := panelStyle.Render(fmt.Sprintf(
		"%s\n\n%s", titleStyle.Render("system timer"), timers.String(),
	))
	bottom := panelStyle.Width(82).Render(fmt.Sprintf(
		"%s\n\n%s\n\n[b] post button event  [r] renew demo timer  [q] quit",
		titleStyle.Render("log"), strings.Join(m.log, "\n"),
	))

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.JoinHorizontal(lipgloss.Top, left, right),
		bottom,
	)
}
