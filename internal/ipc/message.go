// Package ipc implements the control channel between the supervisor and a
// worker: tagged JSON messages framed with Content-Length headers.
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/lambda-feedback/hotserve/internal/artifact"
)

var (
	ErrClosed        = errors.New("control channel closed")
	ErrFrameTooLarge = errors.New("frame too large")
)

type Tag string

const (
	// TagOnline is sent by a worker once it is bootstrapped and waits
	// for its spawn message.
	TagOnline Tag = "online"

	// TagSpawn carries the entry path and artifact set to run.
	TagSpawn Tag = "spawn"

	// TagPatch carries an incremental artifact diff.
	TagPatch Tag = "patch"

	// TagPatchResult answers a patch.
	TagPatchResult Tag = "patch-result"

	// TagReady reports that the hosted program accepts traffic.
	TagReady Tag = "ready"

	// TagLog forwards a log line from the worker runtime.
	TagLog Tag = "log"
)

// Message is a tagged record. Body holds the tag specific payload.
type Message struct {
	Tag  Tag             `json:"tag"`
	Body json.RawMessage `json:"body,omitempty"`
}

// NewMessage encodes body into a message with the given tag.
func NewMessage(tag Tag, body any) (Message, error) {
	msg := Message{Tag: tag}

	if body == nil {
		return msg, nil
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return msg, fmt.Errorf("failed to encode %s body: %w", tag, err)
	}

	msg.Body = raw

	return msg, nil
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("empty %s body", m.Tag)
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s body: %w", m.Tag, err)
	}
	return nil
}

type ReadyMode string

const (
	// ReadyOnListen reports readiness when the program opens its first
	// listener.
	ReadyOnListen ReadyMode = "listen"

	// ReadyExplicit reports readiness only when the program calls
	// hot.Ready itself.
	ReadyExplicit ReadyMode = "explicit"
)

type Spawn struct {
	Entry     string            `json:"entry"`
	Assets    map[string]string `json:"assets"`
	GoPath    string            `json:"gopath,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       []string          `json:"env,omitempty"`
	ReadyMode ReadyMode         `json:"ready_mode,omitempty"`
}

type Patch = artifact.Patch

type PatchStatus string

const (
	Patched        PatchStatus = "patched"
	ReloadRequired PatchStatus = "reload-required"
)

type PatchResult struct {
	Status PatchStatus `json:"status"`
	Reason string      `json:"reason,omitempty"`
}

type Ready struct {
	Address Address `json:"address"`
}

type Online struct {
	Pid int `json:"pid"`
}

type Log struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Address describes where a generation accepts traffic.
type Address struct {
	Network string `json:"network"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == Address{}
}

// ParseAddress parses a host:port string. An empty or unspecified host
// is reported as the loopback address, which is where a local proxy
// reaches the program.
func ParseAddress(network, addr string) (Address, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("invalid port in %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); host == "" || (ip != nil && ip.IsUnspecified()) {
		host = "127.0.0.1"
	}

	if network == "" {
		network = "tcp"
	}

	return Address{Network: network, Host: host, Port: port}, nil
}

// AddressOf converts a listener address.
func AddressOf(addr net.Addr) (Address, error) {
	return ParseAddress(addr.Network(), addr.String())
}
