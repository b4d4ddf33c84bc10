// Package hot is the API a hosted program uses to cooperate with the
// hotserve worker it runs in.
//
// Programs executed by a hotserve worker import this package by its import
// path; the worker binds the functions below to the running generation.
// Compiled natively (outside a worker) every call falls back to a plain
// implementation: Listen is net.Listen, Ready and Accept do nothing.
package hot

import (
	"net"
	"os"
)

// Update describes a patch that was merged into the program's files.
type Update struct {
	// Changed lists the paths with new or updated content.
	Changed []string

	// Removed lists the paths that no longer exist.
	Removed []string
}

// AcceptFunc applies an update to the running program. Returning an error
// makes the worker fall back to a full restart.
type AcceptFunc func(Update) error

// Runtime is implemented by the worker host.
type Runtime interface {
	Ready(addr string) error
	Listen(network, address string) (net.Listener, error)
	Accept(fn AcceptFunc)
	ReadFileAsync(name string, cb func([]byte, error))
}

var runtime Runtime = native{}

// Ready reports that the program accepts traffic on addr. It is required
// when the worker runs with explicit readiness, and ignored otherwise once
// a listener reported readiness.
func Ready(addr string) error {
	return runtime.Ready(addr)
}

// Listen opens a listener whose address is reported to the supervisor.
func Listen(network, address string) (net.Listener, error) {
	return runtime.Listen(network, address)
}

// Accept registers fn to receive incremental updates. A program that never
// calls Accept is always restarted on change.
func Accept(fn AcceptFunc) {
	runtime.Accept(fn)
}

// ReadFileAsync reads name and delivers the result to cb on another
// goroutine.
func ReadFileAsync(name string, cb func([]byte, error)) {
	runtime.ReadFileAsync(name, cb)
}

type native struct{}

func (native) Ready(string) error { return nil }

func (native) Listen(network, address string) (net.Listener, error) {
	return net.Listen(network, address)
}

func (native) Accept(AcceptFunc) {}

func (native) ReadFileAsync(name string, cb func([]byte, error)) {
	go func() {
		cb(os.ReadFile(name))
	}()
}
