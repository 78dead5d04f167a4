package ui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/driver/desktop"
	"fyne.io/fyne/v2/layout"
	"fyne.io/fyne/v2/theme"
	"fyne.io/fyne/v2/widget"

	"github.com/Taylor-Ding/ech/internal/logging"
	"github.com/Taylor-Ding/ech/internal/profile"
	"github.com/Taylor-Ding/ech/internal/state"
)

// LogLimit is the number of worker output lines kept in the log view.
const LogLimit = 500

// RoutingModes are offered in the routing field; any other value may be typed.
var RoutingModes = []string{"bypass_cn", "global", "none"}

// Backend is the command surface the window drives.
type Backend interface {
	GetServers() []profile.Server
	GetCurrentServerID() string
	SetCurrentServer(id string) error
	AddServer(name string) (profile.Server, error)
	UpdateServer(srv profile.Server) error
	DeleteServer(id string) error
	RenameServer(id, newName string) error
	StartProcess() (string, error)
	StopProcess() string
	IsProcessRunning() bool
	SetSystemProxy(enabled bool) (string, error)
	GetProxyStatus() bool
	GetAppVersion() string
	Quit()
	SetQuitHook(hook func())
}

// Events delivers backend events to the window.
type Events interface {
	Subscribe(h state.Handler) func()
}

// Options describe the UI Manager.
type Options struct {
	AppID   string
	AppName string
	Logger  *logging.Logger
	Backend Backend
	Events  Events
}

// Manager owns the fyne application, the main window and the tray menu.
// Widget state is only touched on the fyne goroutine.
type Manager struct {
	app     fyne.App
	appName string
	logger  *logging.Logger
	backend Backend

	mainWin fyne.Window

	servers         []profile.Server
	selectedID      string
	serverList      *widget.List
	suppressSelect  bool
	nameEntry       *widget.Entry
	serverEntry     *widget.Entry
	listenEntry     *widget.Entry
	tokenEntry      *widget.Entry
	ipEntry         *widget.Entry
	dnsEntry        *widget.Entry
	echEntry        *widget.Entry
	routingEntry    *widget.SelectEntry
	toggleBtn       *widget.Button
	proxyCheck      *widget.Check
	suppressProxy   bool
	statusLabel     *widget.Label
	logs            *logBuffer
	logList         *widget.List
	unsubscribe     func()
	shutdownOnce    sync.Once
}

// NewManager creates the fyne application and builds the window.
func NewManager(opts Options) *Manager {
	appID := strings.TrimSpace(opts.AppID)
	if appID == "" {
		appID = "com.echworkers.client"
	}
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = "ECH Workers"
	}
	fyneApp := fyneapp.NewWithID(appID)
	fyneApp.Settings().SetTheme(newClientTheme())
	m := &Manager{
		app:     fyneApp,
		appName: name,
		logger:  opts.Logger,
		backend: opts.Backend,
		logs:    newLogBuffer(LogLimit),
	}
	m.buildMainWindow()
	m.buildTray()
	if opts.Backend != nil {
		opts.Backend.SetQuitHook(m.quitApp)
	}
	if opts.Events != nil {
		m.unsubscribe = opts.Events.Subscribe(m.handleEvent)
	}
	m.reloadServers()
	m.syncRunning(m.backend != nil && m.backend.IsProcessRunning())
	m.syncProxy()
	return m
}

// RunMainLoop blocks until the fyne loop ends.
func (m *Manager) RunMainLoop() {
	if m.app == nil {
		return
	}
	m.mainWin.Show()
	m.app.Run()
}

// Shutdown detaches from the event source and ends the fyne loop.
func (m *Manager) Shutdown() {
	m.shutdownOnce.Do(func() {
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		m.callOnUI(m.quitApp)
	})
}

func (m *Manager) quitApp() {
	if m.app != nil {
		m.app.Quit()
	}
}

func (m *Manager) buildMainWindow() {
	win := m.app.NewWindow(m.appName)
	win.Resize(fyne.NewSize(960, 620))
	win.CenterOnScreen()

	m.serverList = widget.NewList(
		func() int { return len(m.servers) },
		func() fyne.CanvasObject { return widget.NewLabel("") },
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			label := obj.(*widget.Label)
			if id < 0 || id >= len(m.servers) {
				label.SetText("-")
				return
			}
			label.SetText(displayName(m.servers[id]))
		},
	)
	m.serverList.OnSelected = m.handleServerSelected

	addBtn := widget.NewButtonWithIcon("", theme.ContentAddIcon(), m.handleAdd)
	renameBtn := widget.NewButtonWithIcon("", theme.DocumentCreateIcon(), m.handleRename)
	deleteBtn := widget.NewButtonWithIcon("", theme.DeleteIcon(), m.handleDelete)
	listButtons := container.NewGridWithColumns(3, addBtn, renameBtn, deleteBtn)
	serversCard := widget.NewCard("Servers", "", container.NewBorder(nil, listButtons, nil, nil, m.serverList))

	m.nameEntry = widget.NewEntry()
	m.serverEntry = widget.NewEntry()
	m.serverEntry.SetPlaceHolder("your-worker.workers.dev:443")
	m.listenEntry = widget.NewEntry()
	m.listenEntry.SetPlaceHolder(profile.DefaultListenAddr)
	m.tokenEntry = widget.NewPasswordEntry()
	m.ipEntry = widget.NewEntry()
	m.dnsEntry = widget.NewEntry()
	m.echEntry = widget.NewEntry()
	m.routingEntry = widget.NewSelectEntry(RoutingModes)

	form := widget.NewForm(
		widget.NewFormItem("Name", m.nameEntry),
		widget.NewFormItem("Server", m.serverEntry),
		widget.NewFormItem("Listen", m.listenEntry),
		widget.NewFormItem("Token", m.tokenEntry),
		widget.NewFormItem("Preferred IP", m.ipEntry),
		widget.NewFormItem("DoH server", m.dnsEntry),
		widget.NewFormItem("ECH domain", m.echEntry),
		widget.NewFormItem("Routing", m.routingEntry),
	)
	saveBtn := widget.NewButtonWithIcon("Save", theme.DocumentSaveIcon(), m.handleSave)

	m.toggleBtn = widget.NewButtonWithIcon("Start", theme.MediaPlayIcon(), m.handleToggle)
	m.toggleBtn.Importance = widget.HighImportance
	m.proxyCheck = widget.NewCheck("System proxy", m.handleProxyChanged)
	m.statusLabel = widget.NewLabel("Stopped")
	m.statusLabel.Truncation = fyne.TextTruncateEllipsis

	controls := container.NewHBox(saveBtn, m.toggleBtn, m.proxyCheck, layout.NewSpacer())
	editor := widget.NewCard("Profile", "", container.NewBorder(nil, controls, nil, nil, form))

	m.logList = widget.NewList(
		func() int { return m.logs.Len() },
		func() fyne.CanvasObject {
			label := widget.NewLabel("")
			label.TextStyle = fyne.TextStyle{Monospace: true}
			return label
		},
		func(id widget.ListItemID, obj fyne.CanvasObject) {
			obj.(*widget.Label).SetText(m.logs.At(id))
		},
	)
	clearBtn := widget.NewButtonWithIcon("Clear", theme.ContentClearIcon(), func() {
		m.logs.Clear()
		m.logList.Refresh()
	})
	logHeader := container.NewHBox(widget.NewLabelWithStyle("Log", fyne.TextAlignLeading, fyne.TextStyle{Bold: true}), layout.NewSpacer(), clearBtn)
	logPane := container.NewBorder(logHeader, nil, nil, nil, m.logList)

	top := container.NewHSplit(serversCard, editor)
	top.SetOffset(0.3)
	body := container.NewVSplit(top, logPane)
	body.SetOffset(0.6)

	version := ""
	if m.backend != nil {
		version = "v" + m.backend.GetAppVersion()
	}
	statusBar := container.NewHBox(widget.NewLabel("Status:"), m.statusLabel, layout.NewSpacer(), widget.NewLabel(version))

	win.SetContent(container.NewPadded(container.NewBorder(nil, statusBar, nil, nil, body)))
	win.SetCloseIntercept(func() {
		win.Hide()
	})
	m.mainWin = win
}

func (m *Manager) buildTray() {
	desk, ok := m.app.(desktop.App)
	if !ok {
		return
	}
	show := fyne.NewMenuItem("Show window", func() {
		m.mainWin.Show()
		m.mainWin.RequestFocus()
	})
	hide := fyne.NewMenuItem("Hide window", func() {
		m.mainWin.Hide()
	})
	quit := fyne.NewMenuItem("Quit", m.handleQuit)
	quit.IsQuit = true
	desk.SetSystemTrayMenu(fyne.NewMenu(m.appName, show, hide, fyne.NewMenuItemSeparator(), quit))
	desk.SetSystemTrayIcon(theme.ComputerIcon())
}

// handleEvent runs on the emitting goroutine and hands off to fyne.
func (m *Manager) handleEvent(event state.EventType, payload any) {
	switch event {
	case state.EventLogOutput:
		line, _ := payload.(string)
		stamped := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), line)
		m.callOnUI(func() {
			m.logs.Append(stamped)
			m.logList.Refresh()
			m.logList.ScrollToBottom()
		})
	case state.EventProcessStarted:
		m.callOnUI(func() { m.syncRunning(true) })
	case state.EventProcessStopped:
		m.callOnUI(func() { m.syncRunning(false) })
	}
}

func (m *Manager) reloadServers() {
	if m.backend == nil {
		return
	}
	m.servers = m.backend.GetServers()
	m.selectedID = m.backend.GetCurrentServerID()
	m.serverList.Refresh()
	idx := findServerIndex(m.servers, m.selectedID)
	if idx < 0 && len(m.servers) > 0 {
		idx = 0
		m.selectedID = m.servers[0].ID
	}
	m.suppressSelect = true
	if idx >= 0 {
		m.serverList.Select(idx)
	} else {
		m.serverList.UnselectAll()
	}
	m.suppressSelect = false
	if idx >= 0 {
		m.fillForm(m.servers[idx])
	}
}

func (m *Manager) fillForm(srv profile.Server) {
	m.nameEntry.SetText(srv.Name)
	m.serverEntry.SetText(srv.Server)
	m.listenEntry.SetText(srv.Listen)
	m.tokenEntry.SetText(srv.Token)
	m.ipEntry.SetText(srv.IP)
	m.dnsEntry.SetText(srv.DNS)
	m.echEntry.SetText(srv.ECH)
	m.routingEntry.SetText(srv.RoutingMode)
}

func (m *Manager) formServer() (profile.Server, bool) {
	idx := findServerIndex(m.servers, m.selectedID)
	if idx < 0 {
		return profile.Server{}, false
	}
	srv := m.servers[idx]
	srv.Name = m.nameEntry.Text
	srv.Server = strings.TrimSpace(m.serverEntry.Text)
	srv.Listen = strings.TrimSpace(m.listenEntry.Text)
	srv.Token = m.tokenEntry.Text
	srv.IP = strings.TrimSpace(m.ipEntry.Text)
	srv.DNS = strings.TrimSpace(m.dnsEntry.Text)
	srv.ECH = strings.TrimSpace(m.echEntry.Text)
	srv.RoutingMode = strings.TrimSpace(m.routingEntry.Text)
	return srv, true
}

func (m *Manager) syncRunning(running bool) {
	if running {
		m.toggleBtn.SetText("Stop")
		m.toggleBtn.SetIcon(theme.MediaStopIcon())
		m.toggleBtn.Importance = widget.DangerImportance
		m.statusLabel.SetText("Running")
	} else {
		m.toggleBtn.SetText("Start")
		m.toggleBtn.SetIcon(theme.MediaPlayIcon())
		m.toggleBtn.Importance = widget.HighImportance
		m.statusLabel.SetText("Stopped")
	}
	m.toggleBtn.Refresh()
}

func (m *Manager) syncProxy() {
	if m.backend == nil {
		return
	}
	m.setProxyChecked(m.backend.GetProxyStatus())
}

func (m *Manager) setProxyChecked(on bool) {
	m.suppressProxy = true
	m.proxyCheck.SetChecked(on)
	m.suppressProxy = false
}

func (m *Manager) handleServerSelected(id widget.ListItemID) {
	if m.suppressSelect || id < 0 || id >= len(m.servers) {
		return
	}
	srv := m.servers[id]
	m.selectedID = srv.ID
	m.fillForm(srv)
	if err := m.backend.SetCurrentServer(srv.ID); err != nil {
		m.showError("select server", err)
	}
}

func (m *Manager) handleAdd() {
	entry := widget.NewEntry()
	entry.SetPlaceHolder("New server")
	items := []*widget.FormItem{widget.NewFormItem("Name", entry)}
	dialog.ShowForm("Add server", "Add", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		if _, err := m.backend.AddServer(strings.TrimSpace(entry.Text)); err != nil {
			m.showError("add server", err)
		}
		m.reloadServers()
	}, m.mainWin)
}

func (m *Manager) handleRename() {
	idx := findServerIndex(m.servers, m.selectedID)
	if idx < 0 {
		return
	}
	id := m.selectedID
	entry := widget.NewEntry()
	entry.SetText(m.servers[idx].Name)
	items := []*widget.FormItem{widget.NewFormItem("Name", entry)}
	dialog.ShowForm("Rename server", "Rename", "Cancel", items, func(ok bool) {
		if !ok {
			return
		}
		if err := m.backend.RenameServer(id, strings.TrimSpace(entry.Text)); err != nil {
			m.showError("rename server", err)
		}
		m.reloadServers()
	}, m.mainWin)
}

func (m *Manager) handleDelete() {
	idx := findServerIndex(m.servers, m.selectedID)
	if idx < 0 {
		return
	}
	srv := m.servers[idx]
	msg := fmt.Sprintf("Delete %s?", displayName(srv))
	dialog.ShowConfirm("Delete server", msg, func(ok bool) {
		if !ok {
			return
		}
		if err := m.backend.DeleteServer(srv.ID); err != nil {
			m.showError("delete server", err)
		}
		m.reloadServers()
	}, m.mainWin)
}

func (m *Manager) handleSave() {
	if err := m.saveForm(); err != nil {
		m.showError("save server", err)
		return
	}
	m.statusLabel.SetText("Saved")
}

func (m *Manager) saveForm() error {
	srv, ok := m.formServer()
	if !ok {
		return nil
	}
	if err := m.backend.UpdateServer(srv); err != nil {
		return err
	}
	m.reloadServers()
	return nil
}

func (m *Manager) handleToggle() {
	if m.backend.IsProcessRunning() {
		m.statusLabel.SetText(m.backend.StopProcess())
		m.syncRunning(false)
		return
	}
	if err := m.saveForm(); err != nil {
		m.showError("save server", err)
		return
	}
	msg, err := m.backend.StartProcess()
	if err != nil {
		m.showError("start", err)
		return
	}
	m.syncRunning(true)
	m.statusLabel.SetText(msg)
}

func (m *Manager) handleProxyChanged(on bool) {
	if m.suppressProxy {
		return
	}
	msg, err := m.backend.SetSystemProxy(on)
	if err != nil {
		m.setProxyChecked(!on)
		m.showError("system proxy", err)
		return
	}
	m.statusLabel.SetText(msg)
}

func (m *Manager) handleQuit() {
	if m.backend == nil {
		m.quitApp()
		return
	}
	m.backend.Quit()
}

func (m *Manager) showError(action string, err error) {
	m.logger.Errorf("ui %s failed: %v", action, err)
	dialog.ShowError(err, m.mainWin)
}

// callOnUI schedules fn on the fyne goroutine without waiting, so it is safe
// from handlers that already run there.
func (m *Manager) callOnUI(fn func()) {
	if m.app == nil || fn == nil {
		return
	}
	if drv := m.app.Driver(); drv != nil {
		drv.DoFromGoroutine(fn, false)
		return
	}
	fn()
}

func displayName(srv profile.Server) string {
	if name := strings.TrimSpace(srv.Name); name != "" {
		return name
	}
	if srv.Server != "" {
		return srv.Server
	}
	return "(unnamed)"
}

func findServerIndex(list []profile.Server, id string) int {
	for i, srv := range list {
		if srv.ID == id {
			return i
		}
	}
	return -1
}
