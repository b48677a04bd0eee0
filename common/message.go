// Package common holds the wire-independent data model shared by the
// device-client core and every transport implementation: the Message
// envelope (§4.3) and the typed error taxonomy (§7).
package common

import (
	"bytes"
	"fmt"

	"github.com/nytrix-io/iotcore/iotutil"
)

// BodyKind distinguishes how a Message's payload was created. It is fixed
// at construction time and never changes (§3 invariant).
type BodyKind uint8

const (
	// BodyKindBytes means the message was created from an opaque byte array.
	BodyKindBytes BodyKind = iota
	// BodyKindString means the message was created from a UTF-8 string.
	BodyKindString
)

// Disposition is the outcome a device reports for a received message.
type Disposition uint8

const (
	// DispositionNone means no disposition has been set yet.
	DispositionNone Disposition = iota
	DispositionAccepted
	DispositionRejected
	DispositionAbandoned
)

func (d Disposition) String() string {
	switch d {
	case DispositionAccepted:
		return "accepted"
	case DispositionRejected:
		return "rejected"
	case DispositionAbandoned:
		return "abandoned"
	default:
		return "none"
	}
}

// SystemProperties are the named system-property slots of §3.
type SystemProperties struct {
	MessageID     string
	CorrelationID string
	ContentType   string
	ContentEncoding string
	OutputName    string
	InputName     string
	ComponentName string
}

// Message is a unit of telemetry or cloud-to-device payload (§4.3).
//
// Its body kind is immutable after creation: GetByteArray on a
// string-bodied message, or GetString on a byte-bodied one, fails.
type Message struct {
	bodyKind BodyKind
	bytes    []byte
	str      string

	System     SystemProperties
	Properties map[string]string

	disposition Disposition
}

// NewFromByteArray creates a byte-array-bodied message. The slice is
// copied so the caller may reuse its buffer.
func NewFromByteArray(b []byte) *Message {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Message{bodyKind: BodyKindBytes, bytes: cp}
}

// NewFromString creates a string-bodied message.
func NewFromString(s string) *Message {
	return &Message{bodyKind: BodyKindString, str: s}
}

// Kind reports how the message's body was created.
func (m *Message) Kind() BodyKind {
	return m.bodyKind
}

// ErrWrongBodyKind is returned by GetByteArray/GetString when the message's
// body was created with the other kind.
var ErrWrongBodyKind = NewError(KindError, "message body kind mismatch")

// GetByteArray returns the message payload as bytes. Fails with
// ErrWrongBodyKind if the message was created from a string.
func (m *Message) GetByteArray() ([]byte, error) {
	if m.bodyKind != BodyKindBytes {
		return nil, ErrWrongBodyKind
	}
	return m.bytes, nil
}

// GetString returns the message payload as a string. Fails with
// ErrWrongBodyKind if the message was created from a byte array.
func (m *Message) GetString() (string, error) {
	if m.bodyKind != BodyKindString {
		return "", ErrWrongBodyKind
	}
	return m.str, nil
}

// SetDisposition sets the disposition outcome for a received message.
func (m *Message) SetDisposition(d Disposition) {
	m.disposition = d
}

// GetDisposition returns the current disposition outcome.
func (m *Message) GetDisposition() Disposition {
	return m.disposition
}

// Clone returns a fully independent copy of m: equal body bytes, equal
// system properties, and a deep-copied application-property map. No part
// of the result aliases m (§4.3 invariant).
func (m *Message) Clone() *Message {
	cp := &Message{
		bodyKind:    m.bodyKind,
		str:         m.str,
		System:      m.System,
		disposition: m.disposition,
	}
	if m.bytes != nil {
		cp.bytes = make([]byte, len(m.bytes))
		copy(cp.bytes, m.bytes)
	}
	if m.Properties != nil {
		cp.Properties = make(map[string]string, len(m.Properties))
		for k, v := range m.Properties {
			cp.Properties[k] = v
		}
	}
	return cp
}

// AddOrUpdateProperty sets an application property.
func (m *Message) AddOrUpdateProperty(key, value string) {
	if m.Properties == nil {
		m.Properties = map[string]string{}
	}
	m.Properties[key] = value
}

// GetProperty returns an application property's value, or ok=false.
func (m *Message) GetProperty(key string) (string, bool) {
	v, ok := m.Properties[key]
	return v, ok
}

// Inspect is a human-readable message representation, used for debug
// logging only.
func (m *Message) Inspect() string {
	b := &bytes.Buffer{}
	b.WriteString("--- PAYLOAD -------------\n")
	switch m.bodyKind {
	case BodyKindBytes:
		if len(m.bytes) > 0 {
			b.WriteString(iotutil.FormatPayload(m.bytes))
		} else {
			b.WriteString("[empty]")
		}
	case BodyKindString:
		b.WriteString(m.str)
	}
	b.WriteString("\n--- PROPERTIES ----------\n")
	if len(m.Properties) > 0 {
		b.WriteString(iotutil.FormatProperties(m.Properties))
	} else {
		b.WriteString("[empty]")
	}
	b.WriteString("\n--- SYSTEM --------------\n")
	fmt.Fprintf(b, "MessageID: %s\nCorrelationID: %s\nContentType: %s\nContentEncoding: %s\n",
		m.System.MessageID, m.System.CorrelationID, m.System.ContentType, m.System.ContentEncoding)
	b.WriteString("=========================")
	return b.String()
}
