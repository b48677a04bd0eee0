// Package properties implements the twin/property subsystem: the §4.4
// reported/writable-response serializer and the §4.5 deserializer (an
// iterator) over the full-twin / patch payload shape.
package properties

import (
	"bytes"
	"fmt"

	"github.com/nytrix-io/iotcore/common"
)

// SchemaVersion tags the shape of a property struct the caller hands in.
// Only SchemaVersion1 is recognized by this implementation.
type SchemaVersion int

const SchemaVersion1 SchemaVersion = 1

const componentMarker = `"__t":"c"`

// ReportedProperty is one (name, pre-formed JSON value) pair for §4.4's
// reported-properties shape. Value must already be well-formed JSON; the
// serializer does not re-encode it.
type ReportedProperty struct {
	SchemaVersion SchemaVersion
	Name          string
	Value         string
}

// WritableResponseProperty is one property of §4.4's writable-response
// shape: a value plus the device's ack of a desired-property write.
type WritableResponseProperty struct {
	SchemaVersion SchemaVersion
	Name          string
	Value         string
	ResultCode    int
	AckVersion    int
	Description   string // optional; empty means the "ad" member is omitted
}

// Serializer holds the encoded bytes of a serialized property set. It
// mirrors the C SDK's two-pass size-then-write convention: Size reports
// the byte count before any copy is made, and CopyTo performs the actual
// write into a caller-supplied buffer of that exact size. Go's garbage
// collector makes a paired "destroy" call unnecessary; Bytes is the
// idiomatic one-step equivalent for callers that don't need the
// size-then-allocate dance.
type Serializer struct {
	data []byte
}

// Size is the number of bytes CopyTo will write.
func (s *Serializer) Size() int { return len(s.data) }

// CopyTo writes the serialized bytes into dst, which must be exactly
// Size() bytes long.
func (s *Serializer) CopyTo(dst []byte) (int, error) {
	if len(dst) != len(s.data) {
		return 0, common.NewError(common.KindInvalidArg, "destination buffer size mismatch")
	}
	return copy(dst, s.data), nil
}

// Bytes returns the serialized form directly.
func (s *Serializer) Bytes() []byte { return s.data }

// SerializeReported emits the §4.4 reported-properties JSON object. With
// no component, it is a flat object; with a component name, the object is
// wrapped as {"<component>":{"__t":"c",...}}.
func SerializeReported(props []ReportedProperty, component string) (*Serializer, error) {
	if len(props) == 0 {
		return nil, common.NewError(common.KindInvalidArg, "props is empty")
	}
	for _, p := range props {
		if p.SchemaVersion != SchemaVersion1 {
			return nil, common.NewError(common.KindInvalidArg, fmt.Sprintf("unrecognized schema version %d", p.SchemaVersion))
		}
		if p.Name == "" {
			return nil, common.NewError(common.KindInvalidArg, "property name is empty")
		}
		if p.Value == "" {
			return nil, common.NewError(common.KindInvalidArg, "property value is empty")
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	if component != "" {
		fmt.Fprintf(&buf, "%q:{%s", component, componentMarker)
	}
	for i, p := range props {
		if component != "" || i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:%s", p.Name, p.Value)
	}
	if component != "" {
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return &Serializer{data: buf.Bytes()}, nil
}

// SerializeWritableResponse emits the §4.4 writable-response JSON shape:
// each property becomes {"value":<v>,"ac":<result>,"av":<ack>[,"ad":<desc>]}.
func SerializeWritableResponse(props []WritableResponseProperty, component string) (*Serializer, error) {
	if len(props) == 0 {
		return nil, common.NewError(common.KindInvalidArg, "props is empty")
	}
	for _, p := range props {
		if p.SchemaVersion != SchemaVersion1 {
			return nil, common.NewError(common.KindInvalidArg, fmt.Sprintf("unrecognized schema version %d", p.SchemaVersion))
		}
		if p.Name == "" {
			return nil, common.NewError(common.KindInvalidArg, "property name is empty")
		}
		if p.Value == "" {
			return nil, common.NewError(common.KindInvalidArg, "property value is empty")
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	if component != "" {
		fmt.Fprintf(&buf, "%q:{%s", component, componentMarker)
	}
	for i, p := range props {
		if component != "" || i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, "%q:{\"value\":%s,\"ac\":%d,\"av\":%d", p.Name, p.Value, p.ResultCode, p.AckVersion)
		if p.Description != "" {
			fmt.Fprintf(&buf, ",\"ad\":%q", p.Description)
		}
		buf.WriteByte('}')
	}
	if component != "" {
		buf.WriteByte('}')
	}
	buf.WriteByte('}')
	return &Serializer{data: buf.Bytes()}, nil
}
