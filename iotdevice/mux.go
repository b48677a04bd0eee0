package iotdevice

import (
	"sync"

	"github.com/nytrix-io/iotcore/common"
)

// messageSlot holds the mutually-exclusive sync/async message-callback
// pair (§4.2 "fails error if ... trying to set sync while async is
// active (and vice versa)"). Unlike the teacher's messageMux — a
// goroutine-per-handler fan-out list — only one handler of either kind
// can ever be registered at a time here, matching the cooperative
// single-threaded do_work model: dispatch happens inline from the
// transport's OnMessage callback during DoWork, never in a new goroutine.
type messageSlot struct {
	mu    sync.Mutex
	sync  MessageCallback
	async MessageCallbackEx
	on    bool
}

// MessageCallback is the synchronous message handler: it returns the
// disposition to report back to the transport.
type MessageCallback func(msg *common.Message) common.Disposition

// MessageCallbackEx is the asynchronous message handler: disposition is
// reported later via Client.SendMessageDisposition.
type MessageCallbackEx func(info *MessageInfo, msg *common.Message)

func (s *messageSlot) setSync(cb MessageCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		if s.sync == nil {
			return common.NewError(common.KindError, "no synchronous message callback is registered")
		}
		s.sync = nil
		s.on = false
		return nil
	}
	if s.async != nil {
		return common.NewError(common.KindError, "an asynchronous message callback is already active")
	}
	s.sync = cb
	return nil
}

func (s *messageSlot) setAsync(cb MessageCallbackEx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		if s.async == nil {
			return common.NewError(common.KindError, "no asynchronous message callback is registered")
		}
		s.async = nil
		s.on = false
		return nil
	}
	if s.sync != nil {
		return common.NewError(common.KindError, "a synchronous message callback is already active")
	}
	s.async = cb
	return nil
}

func (s *messageSlot) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync != nil || s.async != nil
}

// dispatch invokes whichever handler is registered and returns the
// disposition to report to the transport: the sync handler's return
// value, or DispositionNone if the async handler owns disposition (it
// will report it later via SendMessageDisposition).
func (s *messageSlot) dispatch(info *MessageInfo, msg *common.Message) common.Disposition {
	s.mu.Lock()
	sync, async := s.sync, s.async
	s.mu.Unlock()

	switch {
	case sync != nil:
		return sync(msg)
	case async != nil:
		async(info, msg)
		return common.DispositionNone
	default:
		return common.DispositionAbandoned
	}
}

// TwinCallback receives raw twin payload bytes (full document on first
// delivery, patches thereafter) to be fed to the properties deserializer.
type TwinCallback func(payload []byte, isPartial bool)

type twinSlot struct {
	mu sync.Mutex
	cb TwinCallback
}

func (s *twinSlot) set(cb TwinCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		if s.cb == nil {
			return common.NewError(common.KindError, "no twin callback is registered")
		}
		s.cb = nil
		return nil
	}
	s.cb = cb
	return nil
}

func (s *twinSlot) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb != nil
}

func (s *twinSlot) dispatch(payload []byte, isPartial bool) {
	s.mu.Lock()
	cb := s.cb
	s.mu.Unlock()
	if cb != nil {
		cb(payload, isPartial)
	}
}

// MethodCallback is the synchronous direct-method handler: it returns a
// status code and response body.
type MethodCallback func(name string, payload []byte) (status int, response []byte)

// MethodCallbackEx is the asynchronous direct-method handler: the
// application completes the call later via Client.DeviceMethodResponse.
type MethodCallbackEx func(methodID, name string, payload []byte)

type methodSlot struct {
	mu    sync.Mutex
	sync  MethodCallback
	async MethodCallbackEx
}

func (s *methodSlot) setSync(cb MethodCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		if s.sync == nil {
			return common.NewError(common.KindError, "no synchronous method callback is registered")
		}
		s.sync = nil
		return nil
	}
	if s.async != nil {
		return common.NewError(common.KindError, "an asynchronous method callback is already active")
	}
	s.sync = cb
	return nil
}

func (s *methodSlot) setAsync(cb MethodCallbackEx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb == nil {
		if s.async == nil {
			return common.NewError(common.KindError, "no asynchronous method callback is registered")
		}
		s.async = nil
		return nil
	}
	if s.sync != nil {
		return common.NewError(common.KindError, "a synchronous method callback is already active")
	}
	s.async = cb
	return nil
}

func (s *methodSlot) subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sync != nil || s.async != nil
}

func (s *methodSlot) dispatch(methodID, name string, payload []byte) (status int, response []byte) {
	s.mu.Lock()
	sync, async := s.sync, s.async
	s.mu.Unlock()

	switch {
	case sync != nil:
		return sync(name, payload)
	case async != nil:
		async(methodID, name, payload)
		return 0, nil // completion deferred; DeviceMethodResponse reports the real status later.
	default:
		return 501, []byte(`{"error":"method not registered"}`)
	}
}
