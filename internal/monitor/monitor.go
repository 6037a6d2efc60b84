// Package monitor watches the audio device directory and turns device state
// changes into bus events and a pending format-change broadcast on the
// engine, so shared-mode clients renegotiate after a default device moves.
package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/peinadoso/SynchronousAudioRouter/internal/events"
)

// FormatChangeRequester arms the engine's tick-consumed broadcast flag.
type FormatChangeRequester interface {
	RequestFormatChange()
}

// DeviceMonitor broadcasts device add/remove/change under one directory.
// Only devices bound to a session endpoint arm a format change; everything
// else is published for observers and otherwise ignored.
type DeviceMonitor struct {
	dir      string
	bindings map[string]string // device file name -> endpoint ID
	bus      *events.Bus
	engine   FormatChangeRequester
	logger   *slog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a monitor over dir. bindings maps device file names (not full
// paths) to the stable endpoint IDs they back.
func New(dir string, bindings map[string]string, bus *events.Bus, engine FormatChangeRequester, logger *slog.Logger) *DeviceMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &DeviceMonitor{
		dir:      dir,
		bindings: bindings,
		bus:      bus,
		engine:   engine,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins watching for device changes.
func (m *DeviceMonitor) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(m.dir); err != nil {
		watcher.Close()
		return err
	}
	m.watcher = watcher

	m.logger.Info("Device monitor started", "dir", m.dir, "bound", len(m.bindings))
	go m.watch()
	return nil
}

// Stop stops the monitor.
func (m *DeviceMonitor) Stop() error {
	m.cancel()
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *DeviceMonitor) watch() {
	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Device monitor stopped")
			return

		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if action := actionFor(ev.Op); action != "" {
				m.handle(ev.Name, action)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("Device monitor error", "error", err)
		}
	}
}

func actionFor(op fsnotify.Op) string {
	switch {
	case op.Has(fsnotify.Create):
		return "added"
	case op.Has(fsnotify.Remove) || op.Has(fsnotify.Rename):
		return "removed"
	case op.Has(fsnotify.Write) || op.Has(fsnotify.Chmod):
		return "changed"
	default:
		return ""
	}
}

func (m *DeviceMonitor) handle(path, action string) {
	now := time.Now().Format(time.RFC3339)
	endpointID := m.bindings[filepath.Base(path)]

	m.bus.Publish(events.DeviceStateEvent{
		DevicePath: path,
		EndpointID: endpointID,
		Action:     action,
		Timestamp:  now,
	})

	if endpointID == "" {
		return
	}

	m.logger.Info("Bound device changed, requesting format renegotiation",
		"device", path, "endpoint", endpointID, "action", action)
	m.bus.Publish(events.FormatChangeEvent{EndpointID: endpointID, Timestamp: now})
	if m.engine != nil {
		m.engine.RequestFormatChange()
	}
}
