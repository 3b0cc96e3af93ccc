package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/hal/sim"
	"github.com/relaybot/relaybot/pkg/linefollow"
	"github.com/relaybot/relaybot/pkg/maze"
	"github.com/relaybot/relaybot/pkg/race"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

type RunCommand struct {
	Mode     string `long:"mode" default:"race" choice:"race" choice:"maze" choice:"follow" description:"What the robot does"`
	Sim      bool   `long:"sim" description:"Drive a simulated robot on a demo course instead of the board"`
	Headless bool   `long:"headless" description:"Log to stderr instead of showing the race view"`
}

const (
	headerHeight = 2 // title + blank line
	legendHeight = 2 // legend row + blank
	footerHeight = 8 // status line + log box
	maxLogs      = 5 // number of log messages to show
	borderSize   = 2 // chart border
	speedStep    = 10
)

type series struct {
	name  string
	color string
}

var raceSeries = []series{
	{"steer", "226"}, // yellow
	{"left", "46"},   // green
	{"right", "51"},  // cyan
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	chartStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	alertStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

func (c *RunCommand) Execute(args []string) error {
	cfg, err := loadConfig(c.Sim)
	if err != nil {
		return err
	}
	var path string
	if c.Mode == "race" && !c.Headless {
		path = logFile
	}
	log, err := newLogger(path)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var r *rig
	if c.Sim {
		o := sim.DefaultOptions()
		o.RealTime = true
		r = openSim(cfg, demoWorld(c.Mode), o, log)
	} else if r, err = openBoard(cfg, log); err != nil {
		return err
	}
	defer r.Close()
	if err := r.openRadio(ctx); err != nil {
		return err
	}

	switch c.Mode {
	case "maze":
		return ignoreCanceled(r.runMaze(ctx))
	case "follow":
		return ignoreCanceled(r.runFollow(ctx))
	}
	hw, err := r.raceHardware()
	if err != nil {
		return err
	}
	ctrl := race.NewController(hw, cfg, log)
	if c.Headless {
		return ignoreCanceled(ctrl.Start(ctx))
	}
	return runRaceView(ctx, ctrl, log)
}

func (r *rig) runMaze(ctx context.Context) error {
	var rangers maze.Rangers
	var err error
	for _, s := range []struct {
		dst  *sensor.Ranger
		pins robot.Sonar
	}{
		{&rangers.Left, r.cfg.Pins.LeftSonar},
		{&rangers.Front, r.cfg.Pins.Front},
		{&rangers.Right, r.cfg.Pins.RightSonar},
	} {
		if *s.dst, err = r.sonar(s.pins); err != nil {
			return fmt.Errorf("maze mode: %w", err)
		}
	}
	return maze.NewNavigator(r.base, r.motion, rangers, r.clock, r.cfg, r.log).Run(ctx)
}

func (r *rig) runFollow(ctx context.Context) error {
	if len(r.cfg.Line.FixedThresholds) == 0 {
		r.log.Infow("calibrating line sensors", "duration", r.cfg.Line.CalibrationDuration.D())
		p, err := r.array.Calibrate(r.base, r.clock, r.cfg.Line.CalibrationDuration.D(), r.cfg.Speeds.Calibration)
		if err != nil {
			return err
		}
		r.log.Infow("calibration complete", "thresholds", p.Thresholds())
	}
	l := linefollow.NewLoop(linefollow.NewFollower(r.cfg), r.array, r.base, r.clock, r.cfg.Race.Loop.D(), r.log)
	return l.Run(ctx)
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runRaceView runs the controller in the background and shows it until the
// user quits. The controller is stopped before returning.
func runRaceView(ctx context.Context, ctrl *race.Controller, log *zap.SugaredLogger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		err := ctrl.Start(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Errorw("race stopped", "error", err)
		}
		done <- err
	}()

	p := tea.NewProgram(newRaceModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("race view: %w", err)
	}
	cancel()
	err := <-done

	snap := ctrl.Snapshot()
	fmt.Printf("Race %s after %s (%s)\n", snap.Phase, snap.Context.Elapsed(snap.Timestamp).Truncate(time.Millisecond), snap.Context.State)
	return ignoreCanceled(err)
}

type raceModel struct {
	ctrl     *race.Controller
	chart    *streamlinechart.Model
	width    int
	height   int
	logs     []string
	status   race.Status
	quitting bool
}

// Messages from the controller
type stateMsg race.Status
type logMsg string

func waitForState(ctrl *race.Controller) tea.Cmd {
	return func() tea.Msg {
		return stateMsg(<-ctrl.States())
	}
}

func waitForLog(ctrl *race.Controller) tea.Cmd {
	return func() tea.Msg {
		return logMsg(<-ctrl.Logs())
	}
}

func newRaceModel(ctrl *race.Controller) raceModel {
	chart := streamlinechart.New(80, 20,
		streamlinechart.WithYRange(-hal.MaxPwm, hal.MaxPwm),
	)
	for _, s := range raceSeries {
		style := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color))
		chart.SetDataSetStyles(s.name, runes.ThinLineStyle, style)
	}
	return raceModel{
		ctrl:   ctrl,
		chart:  &chart,
		status: ctrl.Snapshot(),
	}
}

func (m *raceModel) addLog(msg string) {
	m.logs = append(m.logs, msg)
	if len(m.logs) > maxLogs {
		m.logs = m.logs[len(m.logs)-maxLogs:]
	}
}

func (m *raceModel) chartSize() (width, height int) {
	if m.width == 0 || m.height == 0 {
		return 80, 20
	}
	width = max(m.width-borderSize-2, 40)
	height = max(m.height-headerHeight-legendHeight-footerHeight-borderSize, 10)
	return width, height
}

func (m raceModel) Init() tea.Cmd {
	return tea.Batch(
		waitForState(m.ctrl),
		waitForLog(m.ctrl),
	)
}

func (m raceModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.chart.Resize(m.chartSize())
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case " ", "s":
			m.ctrl.EmergencyStop()
		case "+", "=":
			m.ctrl.SetBaseSpeed(min(m.status.Context.BaseSpeed+speedStep, hal.MaxPwm))
		case "-":
			m.ctrl.SetBaseSpeed(max(m.status.Context.BaseSpeed-speedStep, 0))
		}

	case stateMsg:
		m.status = race.Status(msg)
		// Freeze the chart outside line following.
		if m.status.Phase == race.Racing && m.status.Context.State == robot.FollowLine {
			out := m.status.Output
			m.chart.PushDataSet("steer", out.Adjustment)
			m.chart.PushDataSet("left", float64(out.Left))
			m.chart.PushDataSet("right", float64(out.Right))
			m.chart.DrawAll()
		}
		return m, waitForState(m.ctrl)

	case logMsg:
		m.addLog(string(msg))
		return m, waitForLog(m.ctrl)
	}

	return m, nil
}

func (m raceModel) View() string {
	if m.quitting {
		return "Race view closed.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("RelayBot Race"))
	sb.WriteString(fmt.Sprintf(" - %s", m.status.Phase))
	if m.width > 0 {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  [%dx%d]", m.width, m.height)))
	}
	sb.WriteString("\n\n")

	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")
	sb.WriteString(renderLegend())
	sb.WriteString("\n")

	sb.WriteString(m.statusLine())
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))

	logLines := statusStyle.Render("'s' emergency stop, '+'/'-' speed, 'q' quit")
	if len(m.logs) > 0 {
		logLines = strings.Join(m.logs, "\n")
	}
	sb.WriteString(logStyle.Render(logLines))
	sb.WriteString("\n")
	return sb.String()
}

func (m raceModel) statusLine() string {
	c := m.status.Context
	dist := "--"
	if c.Distance.Valid {
		dist = fmt.Sprintf("%dcm", c.Distance.Cm)
	}
	line := fmt.Sprintf("%s  line %s  speed %d  ticks L%d R%d  front %s",
		c.State, c.Line, c.BaseSpeed, c.LeftTicks, c.RightTicks, dist)
	if m.status.Error != nil && !errors.Is(m.status.Error, race.ErrFinished) {
		return line + "  " + alertStyle.Render(m.status.Error.Error())
	}
	return statusStyle.Render(line)
}

func renderLegend() string {
	var items []string
	for _, s := range raceSeries {
		colorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(s.color)).Bold(true)
		items = append(items, colorStyle.Render("━━")+" "+s.name)
	}
	return strings.Join(items, "  ")
}
