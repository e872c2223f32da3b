// Package dbus publishes host sensor state as D-Bus properties and
// tracks the host power state.
package dbus

import (
	"fmt"
	"sort"
	"sync"
)

// Publisher sets a D-Bus property on an object.
type Publisher interface {
	SetProperty(path, iface, property string, value any) error
}

// HostState reports whether host firmware is running.
type HostState interface {
	IsHostUp() (bool, error)
}

// Property is one recorded property value.
type Property struct {
	Path      string `json:"path"`
	Interface string `json:"interface"`
	Name      string `json:"name"`
	Value     any    `json:"value"`
}

// Recorder is an in-memory Publisher and HostState used when no system
// bus is available and in tests.
type Recorder struct {
	mu     sync.RWMutex
	props  map[string]Property
	hostUp bool
	err    error
}

// NewRecorder returns an empty recorder reporting the host as up.
func NewRecorder() *Recorder {
	return &Recorder{props: make(map[string]Property), hostUp: true}
}

func propertyKey(path, iface, property string) string {
	return path + "|" + iface + "|" + property
}

// SetProperty records value.
func (r *Recorder) SetProperty(path, iface, property string, value any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.props[propertyKey(path, iface, property)] = Property{Path: path, Interface: iface, Name: property, Value: value}
	return nil
}

// Get returns a recorded value.
func (r *Recorder) Get(path, iface, property string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.props[propertyKey(path, iface, property)]
	return p.Value, ok
}

// Properties returns every recorded property ordered by path.
func (r *Recorder) Properties() []Property {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Property, 0, len(r.props))
	for _, p := range r.props {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// FailWith makes every later SetProperty return err. A nil err clears it.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}

// SetHostUp sets the value IsHostUp reports.
func (r *Recorder) SetHostUp(up bool) {
	r.mu.Lock()
	r.hostUp = up
	r.mu.Unlock()
}

// IsHostUp implements HostState.
func (r *Recorder) IsHostUp() (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostUp, nil
}

// ConvertValue converts a JSON decoded value to the Go type D-Bus expects
// for propertyType.
func ConvertValue(propertyType string, v any) (any, error) {
	switch propertyType {
	case "string":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("value %v is not a string", v)
		}
		return s, nil
	case "bool":
		b, ok := v.(bool)
		if !ok {
			return nil, fmt.Errorf("value %v is not a bool", v)
		}
		return b, nil
	}

	f, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("value %v is not a number", v)
	}
	switch propertyType {
	case "uint8":
		return uint8(f), nil
	case "int16":
		return int16(f), nil
	case "uint16":
		return uint16(f), nil
	case "int32":
		return int32(f), nil
	case "uint32":
		return uint32(f), nil
	case "int64":
		return int64(f), nil
	case "uint64":
		return uint64(f), nil
	case "double":
		return f, nil
	default:
		return nil, fmt.Errorf("unsupported property type %q", propertyType)
	}
}
