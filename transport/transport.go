// Package transport defines the §4.1 transport-provider capability
// interface: the contract every wire protocol (MQTT-like, AMQP-like,
// HTTP) satisfies so the device-client core (package iotdevice) never
// contains transport-specific code.
package transport

import (
	"github.com/nytrix-io/iotcore/common"
	"github.com/nytrix-io/iotcore/credentials"
	"github.com/nytrix-io/iotcore/logger"
)

// ErrNotSupported is returned by a transport for a capability its wire
// dialect does not implement (e.g. the HTTP transport carries no twin or
// method traffic).
var ErrNotSupported = common.NewError(common.KindError, "not supported by this transport")

// SendStatus is the result of Transport.GetSendStatus.
type SendStatus uint8

const (
	SendStatusIdle SendStatus = iota
	SendStatusBusy
)

// ProcessItemKind identifies the kind of out-of-band item handed to
// Transport.ProcessItem — currently only twin (reported-property) updates.
type ProcessItemKind uint8

const (
	ProcessItemTwin ProcessItemKind = iota
)

// ProcessItemResult is the outcome of Transport.ProcessItem.
type ProcessItemResult uint8

const (
	ProcessItemOK ProcessItemResult = iota
	ProcessItemContinue
	ProcessItemNotConnected
	ProcessItemError
)

// MessageInfo is the opaque handle a transport attaches to an inbound
// message so that a later SendMessageDisposition call can identify the
// specific delivery to acknowledge.
type MessageInfo struct {
	// Context is transport-private; the HTTP transport stores
	// (device, etag) here (§4.6 "receive-and-dispose ETag flow").
	Context interface{}
}

// DeviceHandle is the opaque per-device registration handle returned by
// Register.
type DeviceHandle interface {
	DeviceID() string
}

// SendRequest is one item of a device's waiting-to-send queue, owned by
// the client and drained by the transport (§3 "Send request (internal)").
type SendRequest struct {
	Message      *common.Message
	EnqueueTick  int64
	TimeoutMS    int64 // zero means no per-message timeout
	Callback     func(result common.ConfirmationKind, ctx interface{})
	UserContext  interface{}
}

// Callbacks is the small table the transport calls back into the client
// through (§4.1).
type Callbacks interface {
	OnSendComplete(reqs []*SendRequest, result common.ConfirmationKind)
	// OnMessage delivers an inbound cloud-to-device message; the boolean
	// return is the synchronous disposition handler's accept/reject/
	// abandon decision folded into "should the transport treat this as
	// accepted" — the async path always returns true here and reports
	// disposition later via SendMessageDisposition.
	OnMessage(info *MessageInfo, msg *common.Message) bool
	OnMethod(name string, payload []byte, methodID string) (status int, response []byte)
	OnTwin(updateKind TwinUpdateKind, payload []byte)
	OnReportedStateComplete(itemID uint64, statusCode int)
	OnConnectionStatus(status common.ConnectionStatus, reason common.ConnectionReason)
	GetProductInfo() string
}

// TwinUpdateKind distinguishes a full-twin response from a partial patch
// push, both delivered through Callbacks.OnTwin.
type TwinUpdateKind uint8

const (
	TwinUpdateComplete TwinUpdateKind = iota
	TwinUpdatePartial
)

// Config is transport-wide (not per-device) configuration. It carries only
// the logger; batching, polling floor, and HTTP/TLS/proxy options are set
// through a transport's own options and SetOption.
type Config struct {
	Logger logger.Logger
}

// DeviceConfig is a single device's registration record (§3 "Transport").
type DeviceConfig struct {
	Credentials credentials.Credentials
}

// Transport is the capability every wire-protocol implementation
// satisfies (§4.1). The core depends on it polymorphically.
type Transport interface {
	SetLogger(l logger.Logger)
	SetCallbackContext(cb Callbacks)

	Register(cfg DeviceConfig, waitingToSend *SendQueue) (DeviceHandle, error)
	Unregister(dh DeviceHandle) error

	Subscribe(dh DeviceHandle) error
	Unsubscribe(dh DeviceHandle) error
	SubscribeTwin(dh DeviceHandle) error
	UnsubscribeTwin(dh DeviceHandle) error
	SubscribeMethods(dh DeviceHandle) error
	UnsubscribeMethods(dh DeviceHandle) error

	// DoWork is non-blocking: it drains the per-device send queue, polls
	// the inbox, and completes any pending timers. It must not sleep.
	DoWork(dh DeviceHandle)

	ProcessItem(kind ProcessItemKind, item interface{}) (ProcessItemResult, error)

	SendMessageDisposition(info *MessageInfo, disposition common.Disposition) error
	DeviceMethodResponse(dh DeviceHandle, methodID string, response []byte, status int) error

	GetSendStatus(dh DeviceHandle) SendStatus
	GetHostname() string

	SetOption(name string, value interface{}) error
	SetRetryPolicy(name string, timeoutSecs int) error

	Close() error
}

// SendQueue is the waiting-to-send list owned by the client and drained
// by the transport (§3). It is a thin wrapper over a slice, not a linked
// list: detaching from the middle (RemoveWhere, for timeout eviction)
// rebuilds the slice in one O(n) pass.
type SendQueue struct {
	items []*SendRequest
}

// NewSendQueue returns an empty send queue.
func NewSendQueue() *SendQueue { return &SendQueue{} }

// Push appends to the back of the queue (FIFO order, §5).
func (q *SendQueue) Push(r *SendRequest) {
	q.items = append(q.items, r)
}

// PopFront removes and returns the first item, or nil if empty.
func (q *SendQueue) PopFront() *SendRequest {
	if len(q.items) == 0 {
		return nil
	}
	r := q.items[0]
	q.items = q.items[1:]
	return r
}

// Peek returns the first item without removing it, or nil if empty.
func (q *SendQueue) Peek() *SendRequest {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// Len reports the number of items currently queued.
func (q *SendQueue) Len() int { return len(q.items) }

// RemoveWhere detaches and returns every item matching pred, preserving
// relative order of the remainder.
func (q *SendQueue) RemoveWhere(pred func(*SendRequest) bool) []*SendRequest {
	var removed, kept []*SendRequest
	for _, it := range q.items {
		if pred(it) {
			removed = append(removed, it)
		} else {
			kept = append(kept, it)
		}
	}
	q.items = kept
	return removed
}

// Drain removes and returns every queued item, in order.
func (q *SendQueue) Drain() []*SendRequest {
	items := q.items
	q.items = nil
	return items
}
