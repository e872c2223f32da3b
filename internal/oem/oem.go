// Package oem defines the hook points a platform can use to extend host
// PDR handling.
package oem

// Handler is an optional platform extension. All methods run on the event
// loop goroutine.
type Handler interface {
	// ProcessHostPDR sees every host PDR before default handling. Returning
	// true marks the record as consumed and skips default handling.
	ProcessHostPDR(pdrType uint8, record []byte) bool

	// FetchComplete is called after a fetch cycle with the handles that
	// were reported to the host.
	FetchComplete(changed []uint32)

	// HostOff is called after host state has been reset.
	HostOff()
}

// Nop is the default Handler; it does nothing.
type Nop struct{}

func (Nop) ProcessHostPDR(uint8, []byte) bool { return false }
func (Nop) FetchComplete([]uint32)            {}
func (Nop) HostOff()                          {}

// Funcs adapts optional functions to Handler. Nil fields behave like Nop.
type Funcs struct {
	OnHostPDR       func(pdrType uint8, record []byte) bool
	OnFetchComplete func(changed []uint32)
	OnHostOff       func()
}

func (f Funcs) ProcessHostPDR(pdrType uint8, record []byte) bool {
	if f.OnHostPDR == nil {
		return false
	}
	return f.OnHostPDR(pdrType, record)
}

func (f Funcs) FetchComplete(changed []uint32) {
	if f.OnFetchComplete != nil {
		f.OnFetchComplete(changed)
	}
}

func (f Funcs) HostOff() {
	if f.OnHostOff != nil {
		f.OnHostOff()
	}
}
