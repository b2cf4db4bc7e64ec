package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/gwillem/teleop-keyboard/pkg/link"
	"github.com/gwillem/teleop-keyboard/pkg/obstacle"
	"github.com/gwillem/teleop-keyboard/pkg/robot"
	"github.com/gwillem/teleop-keyboard/pkg/teleop"
)

type TeleoperateCommand struct {
	Sim        bool    `long:"sim" description:"Drive a simulated base instead of the serial port"`
	Port       string  `long:"port" description:"Serial port of the base (overrides config)"`
	Speed      float64 `long:"speed" description:"Initial linear speed in m/s (overrides config)"`
	Turn       float64 `long:"turn" description:"Initial angular speed in rad/s (overrides config)"`
	RepeatRate float64 `long:"repeat-rate" default:"-1" description:"Republish rate in Hz, 0 publishes on key press only (overrides config)"`
	KeyTimeout float64 `long:"key-timeout" default:"-1" description:"Seconds without a key before stopping, 0 waits forever (overrides config)"`
	Mode       string  `long:"mode" default:"idle" description:"Initial robot behaviour: idle, manual or avoid"`
}

const (
	headerHeight = 2 // title + blank line
	statusHeight = 3 // mode, sectors, legend
	footerHeight = 7 // log box height
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	tickInterval = 100 * time.Millisecond
)

const (
	linearSet  = "linear.x"
	angularSet = "angular.z"
)

var seriesColors = map[string]string{
	linearSet:  "46", // green
	angularSet: "51", // cyan
}

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	blockedStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
	clearStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	modeStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("226"))
	helpStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
)

type teleopModel struct {
	ctrl     *teleop.Controller
	keys     *teleop.KeyQueue
	modes    *teleop.ModeSwitch
	monitor  *obstacle.Monitor
	link     *link.Link
	chart    *streamlinechart.Model
	width    int // terminal width
	height   int // terminal height
	logs     []string
	help     string // key banner, shown next to the chart
	state    teleop.State
	last     robot.Twist
	quitting bool
}

func (m *teleopModel) addLog(msg string) {
	for _, line := range strings.Split(strings.TrimRight(msg, "\n"), "\n") {
		m.logs = append(m.logs, line)
	}
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

// Messages from the controller
type stateMsg teleop.State
type commandMsg robot.Twist
type logMsg string
type helpMsg string
type tickMsg time.Time

func waitForState(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForCommand(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return commandMsg(<-ctrl.Commands())
	}
}

func waitForLog(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func waitForHelp(ctrl *teleop.Controller) tea.Cmd {
	return func() tea.Msg {
		return helpMsg(<-ctrl.Help())
	}
}

func tick() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// chartSize calculates the size of the chart based on terminal dimensions
func (m *teleopModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 16 // default size before we know terminal size
	}
	width = m.width - borderSize - 2
	if m.help != "" {
		width -= lipgloss.Width(helpStyle.Render(m.help))
	}
	if width < 40 {
		width = 40
	}
	height = m.height - headerHeight - statusHeight - footerHeight - borderSize
	if height < 8 {
		height = 8
	}
	return width, height
}

func (m *teleopModel) resizeChart() {
	w, h := m.chartSize()
	m.chart.Resize(w, h)
}

func initialTeleopModel(ctrl *teleop.Controller, keys *teleop.KeyQueue, modes *teleop.ModeSwitch, monitor *obstacle.Monitor, lnk *link.Link) teleopModel {
	chart := streamlinechart.New(80, 16,
		streamlinechart.WithYRange(-3, 3),
	)
	for _, name := range []string{linearSet, angularSet} {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name]))
		chart.SetDataSetStyles(name, runes.ThinLineStyle, style)
	}

	return teleopModel{
		ctrl:    ctrl,
		keys:    keys,
		modes:   modes,
		monitor: monitor,
		link:    lnk,
		chart:   &chart,
		state:   ctrl.State(),
	}
}

func (m teleopModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForCommand(m.ctrl),
		waitForLog(m.ctrl),
		waitForHelp(m.ctrl),
		tick(),
	)
}

func (m teleopModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeChart()
		return m, nil

	case tea.KeyMsg:
		if !m.modes.Mode().Active() {
			switch msg.String() {
			case "1":
				m.modes.SetMode(teleop.ModeManual)
			case "2":
				m.modes.SetMode(teleop.ModeManualAvoid)
			case "q", "ctrl+c":
				m.quitting = true
				return m, tea.Quit
			}
			return m, nil
		}
		if msg.Type == tea.KeyCtrlC && !m.state.Active {
			// Still waiting for the base; nothing reads keys yet.
			m.quitting = true
			return m, tea.Quit
		}
		m.keys.Push(keyRune(msg))
		return m, nil

	case stateMsg:
		m.state = teleop.State(msg)
		return m, waitForState(m.ctrl)

	case commandMsg:
		m.last = robot.Twist(msg)
		return m, waitForCommand(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)

	case helpMsg:
		if m.help == "" {
			m.help = string(msg)
			m.resizeChart()
		}
		return m, waitForHelp(m.ctrl)

	case tickMsg:
		// Chart the last command on a fixed clock.
		m.chart.PushDataSet(linearSet, m.last.Linear.X)
		m.chart.PushDataSet(angularSet, m.last.Angular.Z)
		m.chart.DrawAll()
		return m, tick()
	}

	return m, nil
}

// keyRune maps a terminal key to the rune the controller expects. Keys with
// no binding map to utf8.RuneError, which stops the base.
func keyRune(msg tea.KeyMsg) rune {
	switch msg.Type {
	case tea.KeyCtrlC:
		return teleop.KeyInterrupt
	case tea.KeySpace:
		return ' '
	case tea.KeyRunes:
		if len(msg.Runes) == 1 {
			return msg.Runes[0]
		}
	}
	return utf8.RuneError
}

func (m teleopModel) View() string {
	if m.quitting {
		return "Teleoperation stopped.\n"
	}

	var sb strings.Builder

	// Header
	sb.WriteString(titleStyle.Render("Keyboard Teleop"))
	sb.WriteString(fmt.Sprintf(" - %s", m.link))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	// Chart
	chart := chartStyle.Render(m.chart.View())
	if m.help != "" {
		chart = lipgloss.JoinHorizontal(lipgloss.Top, chart, helpStyle.Render(m.help))
	}
	sb.WriteString(chart)
	sb.WriteString("\n")

	sb.WriteString(m.renderStatus())
	sb.WriteString("\n")
	sb.WriteString(m.renderSectors())
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	// Log box
	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	var logLines string
	if len(m.logs) == 0 {
		logLines = statusStyle.Render(m.hint())
	} else {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")

	return sb.String()
}

func (m teleopModel) hint() string {
	if m.modes.Mode().Active() {
		return "Drive with u i o / j k l / m , .   Ctrl-C to stop"
	}
	return "Press 1 for manual, 2 for manual with avoidance, q to quit"
}

func (m teleopModel) renderStatus() string {
	mode := m.modes.Mode()
	parts := []string{
		"mode " + modeStyle.Render(mode.String()),
		fmt.Sprintf("speed %.3g", m.state.Speed),
		fmt.Sprintf("turn %.3g", m.state.Turn),
		fmt.Sprintf("cmd %s", m.last),
	}
	if !mode.Active() {
		parts = append(parts, statusStyle.Render("[1] manual  [2] avoid  [q] quit"))
	}
	return strings.Join(parts, "   ")
}

func (m teleopModel) renderSectors() string {
	snap := m.monitor.Snapshot()
	if snap.Timestamp.IsZero() {
		return statusStyle.Render("no scan yet")
	}
	flag := func(name string, blocked bool) string {
		if blocked {
			return blockedStyle.Render(name)
		}
		return clearStyle.Render(name)
	}
	s := snap.Sectors
	scans, rejected := m.link.Stats()
	return strings.Join([]string{
		flag("left", snap.Flags.Left) + fmt.Sprintf(" %.2f", s.Left),
		fmt.Sprintf("fl %.2f", s.FrontLeft),
		flag("front", snap.Flags.Front) + fmt.Sprintf(" %.2f", s.Front),
		fmt.Sprintf("fr %.2f", s.FrontRight),
		flag("right", snap.Flags.Right) + fmt.Sprintf(" %.2f", s.Right),
		statusStyle.Render(fmt.Sprintf("scans %d rejected %d", scans, rejected)),
	}, "   ")
}

func renderLegend() string {
	var items []string
	for _, name := range []string{linearSet, angularSet} {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(seriesColors[name])).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+name)
	}
	return strings.Join(items, "  ")
}

func (c *TeleoperateCommand) Execute(args []string) error {
	mode, err := teleop.ParseMode(c.Mode)
	if err != nil {
		return err
	}

	cfg, err := robot.LoadConfigFrom(opts.Config)
	if err != nil {
		if !c.Sim && c.Port == "" {
			fmt.Fprintln(os.Stderr, "No configuration found. Run 'teleop-keyboard setup' first, or use --sim.")
			os.Exit(1)
		}
		cfg = &robot.Config{}
	} else {
		fmt.Printf("Loaded configuration from %s\n", opts.Config)
	}
	c.apply(cfg)
	*cfg = cfg.WithDefaults()

	ctrlLog := log.New(os.Stderr, "", log.LstdFlags)

	var lnk *link.Link
	switch {
	case c.Sim:
		sim := link.NewSim(link.SimConfig{})
		sim.Start()
		lnk = link.New("sim", sim)
	case cfg.Base.IsConfigured():
		lnk, err = link.Open(cfg.Base.Port, cfg.Base.BaudRate)
		if err != nil {
			return err
		}
	default:
		fmt.Fprintln(os.Stderr, "Base not configured. Run 'teleop-keyboard setup' first, or use --sim.")
		os.Exit(1)
	}
	defer lnk.Close()

	monitor := obstacle.NewMonitor(obstacle.Config{
		Threshold: cfg.Obstacle.Threshold,
		Ceiling:   cfg.Obstacle.Ceiling,
	})
	modes := teleop.NewModeSwitch(mode)
	keys := teleop.NewKeyQueue(0)

	ctrl, err := teleop.NewController(teleop.Config{
		Keys:       keys,
		Modes:      modes,
		Sink:       lnk,
		Obstacles:  monitor,
		Speed:      cfg.Teleop.Speed,
		Turn:       cfg.Teleop.Turn,
		RepeatRate: cfg.Teleop.RepeatRate,
		KeyTimeout: time.Duration(cfg.Teleop.KeyTimeout * float64(time.Second)),
	})
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := lnk.Monitor(ctx, monitor); err != nil && !errors.Is(err, context.Canceled) {
			ctrlLog.Printf("Link error: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := ctrl.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			ctrlLog.Printf("Controller error: %v", err)
		}
	}()

	// Run TUI
	p := tea.NewProgram(initialTeleopModel(ctrl, keys, modes, monitor, lnk), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		log.Fatalf("Error running program: %v", err)
	}

	// A running session publishes its final zero before done closes.
	cancel()
	<-done

	return nil
}

// apply copies command line overrides into cfg.
func (c *TeleoperateCommand) apply(cfg *robot.Config) {
	if c.Port != "" {
		cfg.Base.Port = c.Port
	}
	if c.Speed > 0 {
		cfg.Teleop.Speed = c.Speed
	}
	if c.Turn > 0 {
		cfg.Teleop.Turn = c.Turn
	}
	if c.RepeatRate >= 0 {
		cfg.Teleop.RepeatRate = c.RepeatRate
	}
	if c.KeyTimeout >= 0 {
		cfg.Teleop.KeyTimeout = c.KeyTimeout
	}
}
