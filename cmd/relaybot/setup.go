package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"go.bug.st/serial"

	"github.com/relaybot/relaybot/pkg/hal/firmata"
	"github.com/relaybot/relaybot/pkg/robot"
	"github.com/relaybot/relaybot/pkg/sensor"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const noPort = "none"

// minContrast is the raw range a sensor must cover to get a threshold.
const minContrast = 200

type SetupCommand struct {
	SkipSensors bool `long:"skip-sensors" description:"Only pick ports, keep the current thresholds"`
}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("RelayBot Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	if err := pickPorts(cfg); err != nil {
		return err
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if !c.SkipSensors {
		fmt.Println()
		fmt.Println(subHeaderStyle.Render("━━━ Line Sensors ━━━"))
		fmt.Println()
		if err := checkSensors(cfg); err != nil {
			return err
		}
		if err := cfg.SaveTo(opts.Config); err != nil {
			return fmt.Errorf("save config: %w", err)
		}
	}

	fmt.Println()
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━"))
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start the race with: " + headerStyle.Render("relaybot run"))
	return nil
}

// serialPorts lists candidate ports, skipping macOS Bluetooth ports.
func serialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return lo.Reject(ports, func(p string, _ int) bool {
		return strings.Contains(p, "Bluetooth")
	}), nil
}

func pickPorts(cfg *robot.Config) error {
	ports, err := serialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return errors.New("no serial ports found, is the Arduino plugged in?")
	}

	board := cfg.Port
	if !lo.Contains(ports, board) {
		board = ports[0]
	}
	radio := lo.Ternary(cfg.Telemetry.Port == "", noPort, cfg.Telemetry.Port)
	id := cfg.Telemetry.RobotID

	boardOptions := lo.Map(ports, func(p string, _ int) huh.Option[string] { return huh.NewOption(p, p) })
	radioOptions := append([]huh.Option[string]{huh.NewOption("No radio", noPort)}, boardOptions...)

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which port is the Arduino on?").
				Description("It must run StandardFirmata").
				Options(boardOptions...).
				Value(&board),
			huh.NewSelect[string]().
				Title("Which port is the radio on?").
				Description("An HC-12 on a USB adapter").
				Options(radioOptions...).
				Value(&radio),
			huh.NewInput().
				Title("Robot ID").
				Description("Prefix of every telemetry frame").
				Value(&id).
				Validate(func(s string) error {
					if s == "" || strings.ContainsAny(s, ":| ") {
						return errors.New("use letters and digits only")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		fmt.Println()
		os.Exit(0)
	}

	cfg.Port = board
	cfg.Telemetry.Port = lo.Ternary(radio == noPort, "", radio)
	cfg.Telemetry.RobotID = id
	return nil
}

func checkSensors(cfg *robot.Config) error {
	b, err := firmata.Open(cfg.Port, cfg.Pins)
	if err != nil {
		return err
	}
	defer b.Close()

	fmt.Println("Slide the robot across the line so every sensor sees tape and paper.")
	fmt.Println()

	final, err := tea.NewProgram(newSensorModel(sensor.NewLineArray(b, cfg.Line))).Run()
	if err != nil {
		return fmt.Errorf("sensor check: %w", err)
	}
	m := final.(sensorModel)
	if m.rec.Samples() == 0 {
		fmt.Println("No readings, keeping the current thresholds.")
		return nil
	}

	thresholds, weak := thresholdsFrom(m.rec)
	if len(weak) > 0 {
		fmt.Printf("Sensors %v saw too little contrast, the robot will calibrate by spinning.\n", weak)
		cfg.Line.FixedThresholds = nil
		return nil
	}
	cfg.Line.FixedThresholds = thresholds
	fmt.Printf("Thresholds: %v\n", thresholds)
	return nil
}

// thresholdsFrom returns the midpoint thresholds and the sensors whose range
// is under minContrast.
func thresholdsFrom(rec *robot.CalibrationRecorder) ([]int, []int) {
	p := rec.Profile()
	var weak []int
	for i, c := range p {
		if c.Max-c.Min < minContrast {
			weak = append(weak, i)
		}
	}
	return p.Thresholds(), weak
}

// Sensor check TUI model
type sensorModel struct {
	array    *sensor.LineArray
	rec      *robot.CalibrationRecorder
	current  []int
	err      error
	quitting bool
}

type tickMsg time.Time

func newSensorModel(array *sensor.LineArray) sensorModel {
	return sensorModel{
		array:   array,
		rec:     robot.NewCalibrationRecorder(array.Len()),
		current: make([]int, array.Len()),
	}
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m sensorModel) Init() tea.Cmd {
	return tick()
}

func (m sensorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		}

	case tickMsg:
		raw, err := m.array.ReadRaw()
		m.err = err
		if err == nil {
			m.current = raw
			m.rec.Observe(raw)
		}
		return m, tick()
	}
	return m, nil
}

func (m sensorModel) View() string {
	if m.quitting {
		return ""
	}

	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	tableSensorStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	tableCellStyle := lipgloss.NewStyle().Padding(0, 1)
	tableCurrentStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Padding(0, 1)
	tableRangeGoodStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Padding(0, 1)
	tableRangeLowStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Padding(0, 1)

	n := len(m.current)
	rows := make([][]string, 0, n)
	ranges := make([]int, 0, n)
	for i := range n {
		low, high := m.rec.Min(i), m.rec.Max(i)
		if m.rec.Samples() == 0 {
			low, high = 0, 0
		}
		ranges = append(ranges, high-low)
		rows = append(rows, []string{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", m.current[i]),
			fmt.Sprintf("%d", low),
			fmt.Sprintf("%d", high),
			fmt.Sprintf("%d", high-low),
			fmt.Sprintf("%d", (low+high+1)/2),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Sensor", "Current", "Min", "Max", "Range", "Threshold").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			switch col {
			case 0:
				return tableSensorStyle
			case 1:
				return tableCurrentStyle
			case 4:
				if row >= 0 && row < len(ranges) && ranges[row] >= minContrast {
					return tableRangeGoodStyle
				}
				return tableRangeLowStyle
			default:
				return tableCellStyle
			}
		})

	var sb strings.Builder
	sb.WriteString(t.Render())
	sb.WriteString("\n\n")
	if m.err != nil {
		sb.WriteString(tableRangeLowStyle.Render(m.err.Error()))
		sb.WriteString("\n")
	}
	sb.WriteString(dimStyle.Render("Press Enter when done"))
	return sb.String()
}
