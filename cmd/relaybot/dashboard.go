package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/NimbleMarkets/ntcharts/canvas/runes"
	"github.com/NimbleMarkets/ntcharts/linechart/streamlinechart"

	"github.com/relaybot/relaybot/pkg/hal"
	"github.com/relaybot/relaybot/pkg/telemetry"
)

type DashboardCommand struct {
	Port   string `short:"p" long:"port" description:"Radio serial port (default: telemetry.port from the config)"`
	Baud   int    `long:"baud" description:"Radio baud rate (default: telemetry.baud from the config)"`
	Listen string `long:"listen" description:"Also serve frames to websocket clients on this address, e.g. :8080"`
	Plain  bool   `long:"plain" description:"Print received lines instead of showing the dashboard"`

	AllowOrigin []string `long:"allow-origin" description:"Also accept websocket clients from this browser origin (repeatable, '*' for any)"`
}

// event is what websocket clients receive.
type event struct {
	Frame   *telemetry.Frame `json:"frame,omitempty"`
	Message string           `json:"message,omitempty"`
}

var robotColors = []string{"196", "46", "51", "226", "201", "208"}

func (c *DashboardCommand) Execute(args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	port := lo.CoalesceOrEmpty(c.Port, cfg.Telemetry.Port)
	baud := lo.CoalesceOrEmpty(c.Baud, cfg.Telemetry.Baud)
	if port == "" {
		return errors.New("no radio port, pass --port or run 'relaybot setup'")
	}

	log, err := newLogger(lo.Ternary(c.Plain, "", logFile))
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rw, err := telemetry.Open(port, baud)
	if err != nil {
		return err
	}
	link := telemetry.NewLink(rw, 0, nil, log)
	defer link.Close()

	var hub *telemetry.Hub
	if c.Listen != "" {
		hub = telemetry.NewHub(log)
		hub.AllowOrigins(c.AllowOrigin...)
		srv := serveHub(c.Listen, hub, log)
		defer srv.Close()
		defer hub.Close()
	}

	lines := make(chan string, 32)
	go func() {
		defer close(lines)
		if err := link.Run(ctx, func(l string) { lines <- l }); err != nil && ctx.Err() == nil {
			log.Errorw("radio read failed", "port", port, "error", err)
		}
	}()

	if c.Plain {
		for {
			select {
			case <-ctx.Done():
				return nil
			case l, ok := <-lines:
				if !ok {
					return nil
				}
				fmt.Println(l)
				broadcast(hub, l)
			}
		}
	}

	p := tea.NewProgram(newDashModel(link, hub, lines), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

func serveHub(addr string, hub *telemetry.Hub, log *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("websocket server failed", "addr", addr, "error", err)
		}
	}()
	log.Infow("serving telemetry", "url", "ws://"+addr+"/ws")
	return srv
}

func broadcast(hub *telemetry.Hub, line string) {
	if hub == nil {
		return
	}
	if f, err := telemetry.ParseFrame(line); err == nil {
		hub.Broadcast(event{Frame: &f})
		return
	}
	hub.Broadcast(event{Message: line})
}

type dashModel struct {
	link     *telemetry.Link
	hub      *telemetry.Hub
	lines    <-chan string
	roster   *roster
	chart    *streamlinechart.Model
	selected string
	notice   string
	width    int
	height   int
	closed   bool
	quitting bool
}

type lineMsg string
type closedMsg struct{}

func waitForLine(lines <-chan string) tea.Cmd {
	return func() tea.Msg {
		l, ok := <-lines
		if !ok {
			return closedMsg{}
		}
		return lineMsg(l)
	}
}

func newDashModel(link *telemetry.Link, hub *telemetry.Hub, lines <-chan string) dashModel {
	chart := streamlinechart.New(80, 12, streamlinechart.WithYRange(0, hal.MaxPwm))
	return dashModel{
		link:   link,
		hub:    hub,
		lines:  lines,
		roster: newRoster(),
		chart:  &chart,
	}
}

func (m dashModel) Init() tea.Cmd {
	return tea.Batch(waitForLine(m.lines), tick())
}

func (m dashModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.chart.Resize(max(m.width-borderSize-2, 40), max(m.height/3, 8))
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "tab":
			m.selected = m.roster.next(m.selected)
		case " ", "s":
			m.send(telemetry.Command{Target: m.selected, Kind: telemetry.Stop})
		case "r":
			m.send(telemetry.Command{Target: m.selected, Kind: telemetry.Status})
		case "+", "=":
			m.adjustSpeed(speedStep)
		case "-":
			m.adjustSpeed(-speedStep)
		}
		return m, nil

	case lineMsg:
		broadcast(m.hub, string(msg))
		known := len(m.roster.ids)
		if f, ok := m.roster.ingest(string(msg), time.Now()); ok {
			if len(m.roster.ids) > known {
				m.chart.SetDataSetStyles(f.ID, runes.ThinLineStyle, colorFor(known))
			}
			if m.selected == "" {
				m.selected = f.ID
			}
			m.chart.PushDataSet(f.ID, float64(f.Speed))
			m.chart.DrawAll()
		}
		return m, waitForLine(m.lines)

	case closedMsg:
		m.closed = true
		return m, nil

	case tickMsg:
		// Redraw so the Age column keeps counting.
		return m, tick()
	}
	return m, nil
}

func (m *dashModel) adjustSpeed(delta int) {
	f, _, ok := m.roster.get(m.selected)
	if !ok {
		return
	}
	speed := min(max(f.Speed+delta, 0), hal.MaxPwm)
	m.send(telemetry.Command{Target: m.selected, Kind: telemetry.SetSpeed, Speed: speed})
}

func (m *dashModel) send(cmd telemetry.Command) {
	if m.selected == "" {
		m.notice = "No robot selected"
		return
	}
	if err := m.link.WriteLine(cmd.String()); err != nil {
		m.notice = err.Error()
		return
	}
	m.notice = "Sent " + cmd.String()
}

// colorFor gives the i-th robot heard a chart color.
func colorFor(i int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(robotColors[i%len(robotColors)]))
}

func (m dashModel) View() string {
	if m.quitting {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("RelayBot Dashboard"))
	if m.hub != nil {
		sb.WriteString(statusStyle.Render(fmt.Sprintf("  %d websocket client(s)", m.hub.Clients())))
	}
	if m.closed {
		sb.WriteString("  " + alertStyle.Render("radio closed"))
	}
	sb.WriteString("\n\n")

	sb.WriteString(m.robotTable(time.Now()))
	sb.WriteString("\n")
	sb.WriteString(statusStyle.Render("Base speed"))
	sb.WriteString("\n")
	sb.WriteString(chartStyle.Render(m.chart.View()))
	sb.WriteString("\n")

	logStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(max(m.width-4, 20))
	msgs := statusStyle.Render("tab select, 's' stop, '+'/'-' speed, 'r' status, 'q' quit")
	if len(m.roster.messages) > 0 {
		msgs = strings.Join(m.roster.messages, "\n")
	}
	sb.WriteString(logStyle.Render(msgs))
	sb.WriteString("\n")
	if m.notice != "" {
		sb.WriteString(statusStyle.Render(m.notice))
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m dashModel) robotTable(now time.Time) string {
	tableHeaderStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	selectedStyle := cellStyle.Foreground(lipgloss.Color("11")).Bold(true)
	staleStyle := cellStyle.Foreground(lipgloss.Color("241"))

	rows := make([][]string, 0, len(m.roster.ids))
	for _, id := range m.roster.ids {
		f, seen, _ := m.roster.get(id)
		dist := "--"
		if f.Distance.Valid {
			dist = fmt.Sprintf("%dcm", f.Distance.Cm)
		}
		rows = append(rows, []string{
			id,
			f.State.String(),
			f.Line.String(),
			fmt.Sprintf("%d", f.Speed),
			fmt.Sprintf("%d / %d", f.Left, f.Right),
			dist,
			flagList(f),
			f.Elapsed.String(),
			fmt.Sprintf("%.0fs", now.Sub(seen).Seconds()),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Headers("Robot", "State", "Line", "Speed", "Ticks L/R", "Front", "Progress", "Race", "Age").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return tableHeaderStyle
			case row < 0 || row >= len(m.roster.ids):
				return cellStyle
			case m.roster.stale(m.roster.ids[row], now):
				return staleStyle
			case m.roster.ids[row] == m.selected:
				return selectedStyle
			}
			return cellStyle
		})
	return t.Render()
}

// flagList names the progress flags that are set.
func flagList(f telemetry.Frame) string {
	fl := f.Flags
	names := lo.Compact([]string{
		lo.Ternary(fl.Calibrated, "calibrated", ""),
		lo.Ternary(fl.ConePickedUp, "picked up", ""),
		lo.Ternary(fl.GameStarted, "started", ""),
		lo.Ternary(fl.ConeDroppedOff, "dropped off", ""),
		lo.Ternary(fl.GameEnded, "ended", ""),
	})
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
