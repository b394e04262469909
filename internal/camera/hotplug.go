package camera

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"shadowcam/internal/logging"
)

// HotplugWatcher listens for udev netlink events and reports when the
// configured video device is removed.
type HotplugWatcher struct {
	device    string
	onRemoved func(device string)
	logger    *slog.Logger

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugWatcher creates a watcher for device. It returns nil when device
// is empty so callers can skip hotplug handling entirely.
func NewHotplugWatcher(device string, logger *slog.Logger, onRemoved func(device string)) *HotplugWatcher {
	device = strings.TrimSpace(device)
	if device == "" {
		return nil
	}
	return &HotplugWatcher{
		device:    device,
		onRemoved: onRemoved,
		logger:    logging.NewComponentLogger(logger, "hotplug"),
	}
}

// Start begins listening. Failure to open the netlink socket is logged and
// tolerated; unplugs are then detected only when the capture process exits.
func (w *HotplugWatcher) Start(ctx context.Context) error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket", "netlink_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the process may open netlink sockets"),
			logging.String(logging.FieldImpact, "camera unplug detected only when capture stops"),
		)
		return nil
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true
	go w.monitorLoop(ctx, conn, w.quit)

	w.logger.Debug("hotplug watcher started", logging.String("device", w.device))
	return nil
}

// Stop shuts down the watcher. Safe to call repeatedly.
func (w *HotplugWatcher) Stop() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false
}

// Running reports whether the watcher is active.
func (w *HotplugWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *HotplugWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, w.buildMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			w.logger.Debug("netlink monitor error", logging.Error(err))
		}
	}
}

// buildMatcher matches SUBSYSTEM=video4linux, ACTION=remove.
func (w *HotplugWatcher) buildMatcher() netlink.Matcher {
	action := "remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (w *HotplugWatcher) handleEvent(uevent netlink.UEvent) {
	devname := extractDeviceName(uevent)
	if devname == "" || devname != w.device {
		return
	}
	logging.WarnWithContext(w.logger, "camera removed", "camera_removed",
		logging.String("device", devname),
		logging.String(logging.FieldErrorHint, "reconnect the camera and open a new session"),
		logging.String(logging.FieldImpact, "active session closed"),
	)
	if w.onRemoved != nil {
		w.onRemoved(devname)
	}
}

func extractDeviceName(uevent netlink.UEvent) string {
	if devname := uevent.Env["DEVNAME"]; devname != "" {
		if !strings.HasPrefix(devname, "/dev/") {
			devname = "/dev/" + devname
		}
		return devname
	}
	devpath := uevent.Env["DEVPATH"]
	if devpath == "" {
		return ""
	}
	parts := strings.Split(devpath, "/")
	return "/dev/" + parts[len(parts)-1]
}
