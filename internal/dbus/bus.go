package dbus

import (
	"context"
	"fmt"
	"sync"

	godbus "github.com/godbus/dbus/v5"
	"github.com/rs/zerolog/log"
)

// Well known OpenBMC names
const (
	mapperService = "xyz.openbmc_project.ObjectMapper"
	mapperPath    = "/xyz/openbmc_project/object_mapper"
	mapperIface   = "xyz.openbmc_project.ObjectMapper"

	propertiesIface = "org.freedesktop.DBus.Properties"

	HostStatePath    = "/xyz/openbmc_project/state/host0"
	HostStateService = "xyz.openbmc_project.State.Host"
	HostStateIface   = "xyz.openbmc_project.State.Host"
	CurrentHostState = "CurrentHostState"

	HostStateRunning = "xyz.openbmc_project.State.Host.HostState.Running"
	HostStateOff     = "xyz.openbmc_project.State.Host.HostState.Off"
)

// Bus publishes properties on the system bus, resolving the owning
// service of each object through the object mapper.
type Bus struct {
	conn *godbus.Conn

	mu       sync.Mutex
	services map[string]string
}

// ConnectSystemBus connects to the system bus.
func ConnectSystemBus() (*Bus, error) {
	conn, err := godbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}
	return &Bus{conn: conn, services: make(map[string]string)}, nil
}

// Close closes the bus connection.
func (b *Bus) Close() error { return b.conn.Close() }

func (b *Bus) service(path, iface string) (string, error) {
	key := path + "|" + iface
	b.mu.Lock()
	svc, ok := b.services[key]
	b.mu.Unlock()
	if ok {
		return svc, nil
	}

	var owners map[string][]string
	obj := b.conn.Object(mapperService, mapperPath)
	if err := obj.Call(mapperIface+".GetObject", 0, path, []string{iface}).Store(&owners); err != nil {
		return "", fmt.Errorf("mapper lookup of %s: %w", path, err)
	}
	for name := range owners {
		svc = name
		break
	}
	if svc == "" {
		return "", fmt.Errorf("no service implements %s on %s", iface, path)
	}
	b.mu.Lock()
	b.services[key] = svc
	b.mu.Unlock()
	return svc, nil
}

// SetProperty implements Publisher.
func (b *Bus) SetProperty(path, iface, property string, value any) error {
	svc, err := b.service(path, iface)
	if err != nil {
		return err
	}
	obj := b.conn.Object(svc, godbus.ObjectPath(path))
	call := obj.Call(propertiesIface+".Set", 0, iface, property, godbus.MakeVariant(value))
	if call.Err != nil {
		return fmt.Errorf("failed to set %s.%s on %s: %w", iface, property, path, call.Err)
	}
	return nil
}

// IsHostUp implements HostState by reading CurrentHostState.
func (b *Bus) IsHostUp() (bool, error) {
	obj := b.conn.Object(HostStateService, HostStatePath)
	v, err := obj.GetProperty(HostStateIface + "." + CurrentHostState)
	if err != nil {
		return false, fmt.Errorf("failed to read host state: %w", err)
	}
	state, ok := v.Value().(string)
	if !ok {
		return false, fmt.Errorf("unexpected host state type %T", v.Value())
	}
	return state != HostStateOff, nil
}

// WatchHostState calls fn with every new CurrentHostState value until ctx
// is cancelled. fn runs on the watcher goroutine.
func (b *Bus) WatchHostState(ctx context.Context, fn func(state string)) error {
	opts := []godbus.MatchOption{
		godbus.WithMatchObjectPath(HostStatePath),
		godbus.WithMatchInterface(propertiesIface),
		godbus.WithMatchMember("PropertiesChanged"),
		godbus.WithMatchArg(0, HostStateIface),
	}
	if err := b.conn.AddMatchSignalContext(ctx, opts...); err != nil {
		return fmt.Errorf("failed to watch host state: %w", err)
	}
	signals := make(chan *godbus.Signal, 16)
	b.conn.Signal(signals)

	go func() {
		defer func() {
			b.conn.RemoveSignal(signals)
			_ = b.conn.RemoveMatchSignal(opts...)
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-signals:
				if !ok {
					return
				}
				if state, ok := hostStateFromSignal(sig); ok {
					log.Info().Str("state", state).Msg("Host state changed")
					fn(state)
				}
			}
		}
	}()
	return nil
}

func hostStateFromSignal(sig *godbus.Signal) (string, bool) {
	if sig.Path != HostStatePath || sig.Name != propertiesIface+".PropertiesChanged" || len(sig.Body) < 2 {
		return "", false
	}
	changed, ok := sig.Body[1].(map[string]godbus.Variant)
	if !ok {
		return "", false
	}
	v, ok := changed[CurrentHostState]
	if !ok {
		return "", false
	}
	state, ok := v.Value().(string)
	return state, ok
}
