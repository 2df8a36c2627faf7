package app

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ble-bridge.klederson.com/internal/bridge"
	"ble-bridge.klederson.com/internal/calibration"
	"ble-bridge.klederson.com/internal/ui"
)

const (
	historySize     = 120
	maxReadings     = 500
	refreshInterval = 250 * time.Millisecond
)

// shared holds state shared between the Bubble Tea model copies and main.go.
// Because Bubble Tea uses value receivers, pointer fields ensure all copies
// see the same underlying data.
type shared struct {
	rssi     *History[float64]
	distance *History[float64]
	cancel   context.CancelFunc
}

// AppModel is the root Bubble Tea model for the live distance view.
type AppModel struct {
	width  int
	height int

	live         bool
	adapter      string
	target       string
	model        calibration.Model
	scrollOffset int

	readings []bridge.Reading // newest first
	err      error

	shared *shared
}

// New creates a new AppModel.
func New(target, adapter string, model calibration.Model) AppModel {
	return AppModel{
		live:    true,
		adapter: adapter,
		target:  target,
		model:   model,
		shared: &shared{
			rssi:     NewHistory[float64](historySize),
			distance: NewHistory[float64](historySize),
		},
	}
}

func (m AppModel) Init() tea.Cmd {
	return tickCmd()
}

func (m AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case TickMsg:
		return m, tickCmd()

	case ReadingMsg:
		if m.live {
			r := bridge.Reading(msg)
			m.shared.rssi.Push(float64(r.RSSI))
			m.shared.distance.Push(r.Distance)
			m.readings = append([]bridge.Reading{r}, m.readings...)
			if len(m.readings) > maxReadings {
				m.readings = m.readings[:maxReadings]
			}
		}
		return m, nil

	case DoneMsg:
		if msg.Err != nil && !errors.Is(msg.Err, context.Canceled) {
			m.err = msg.Err
		}
		m.live = false
		return m, nil
	}

	return m, nil
}

func (m AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "Q", "ctrl+c":
		m.stop()
		return m, tea.Quit

	case "p", "P":
		if m.err == nil {
			m.live = !m.live
		}

	case "c", "C":
		m.readings = nil
		m.scrollOffset = 0
		m.shared.rssi.Reset()
		m.shared.distance.Reset()

	case "up", "k":
		if m.scrollOffset > 0 {
			m.scrollOffset--
		}

	case "down", "j":
		if m.scrollOffset < len(m.readings)-1 {
			m.scrollOffset++
		}

	case "home":
		m.scrollOffset = 0

	case "end":
		if len(m.readings) > 0 {
			m.scrollOffset = len(m.readings) - 1
		}
	}

	return m, nil
}

func (m AppModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing distance view..."
	}

	bodyH := m.height - 2 // menu + status
	if bodyH < 5 {
		bodyH = 5
	}

	panelW := m.width * 3 / 5
	if panelW < 30 {
		panelW = 30
	}
	listW := m.width - panelW
	if listW < 20 {
		listW = 20
		panelW = m.width - listW
	}

	var last *bridge.Reading
	if len(m.readings) > 0 {
		last = &m.readings[0]
	}

	menuBar := ui.RenderMenuBar(m.width, m.adapter, m.live)
	targetPanel := ui.RenderTargetPanel(m.target, last, panelW, bodyH, m.shared.rssi.Values(), m.shared.distance.Values())
	readingList := ui.RenderReadingList(m.readings, listW, bodyH, m.scrollOffset)
	statusBar := ui.RenderStatusBar(m.width, ui.StatusInfo{
		Live:     m.live,
		Readings: len(m.readings),
		Model:    m.model.String(),
		Err:      m.err,
	})

	return ui.ComposeLayout(menuBar, targetPanel, readingList, statusBar)
}

// StartDistance runs distance reporting in the background, feeding readings
// into p. Must be called before p.Run().
func (m *AppModel) StartDistance(ctx context.Context, p *tea.Program, b *bridge.Bridge, maxPasses int) {
	ctx, cancel := context.WithCancel(ctx)
	m.shared.cancel = cancel

	go func() {
		err := b.RunDistance(ctx, m.model, maxPasses, func(r bridge.Reading) {
			p.Send(ReadingMsg(r))
		})
		p.Send(DoneMsg{Err: err})
	}()
}

func (m *AppModel) stop() {
	if m.shared.cancel != nil {
		m.shared.cancel()
	}
}

func tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}
