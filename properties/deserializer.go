package properties

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/nytrix-io/iotcore/common"
)

// PayloadKind is the shape of the twin payload handed to the deserializer.
type PayloadKind uint8

const (
	// PayloadComplete is a full {desired:{...},reported:{...}} envelope.
	PayloadComplete PayloadKind = iota
	// PayloadPartial is a desired-only patch; the root object IS the
	// desired fragment.
	PayloadPartial
)

// Origin identifies whether a parsed property came from the desired
// (service-set, writable) or reported (device-set) half of the twin.
type Origin uint8

const (
	OriginWritable Origin = iota
	OriginReportedFromClient
)

// ValueKind is always String in this version of the interface; Binary is
// reserved in the wire ABI but never produced (spec §9 open question).
type ValueKind uint8

const (
	ValueKindString ValueKind = iota
	ValueKindBinary
)

// Property is one parsed property, valid only for the lifetime of the
// Iterator that produced it.
type Property struct {
	Origin      Origin
	Component   string // empty for a root-level property
	Name        string
	Value       string // borrowed JSON serialization of the value
	ValueLength int
	ValueKind   ValueKind
}

type member struct {
	key string
	raw json.RawMessage
}

// parseOrderedObject walks a JSON object preserving document order and
// duplicate keys (§9 open question: duplicates are surfaced, not
// deduplicated), without recursing into nested object structure — each
// member's value is kept as an opaque json.RawMessage until something
// asks to descend into it.
func parseOrderedObject(raw json.RawMessage) ([]member, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, common.NewError(common.KindError, "expected a JSON object")
	}
	var members []member
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, common.NewError(common.KindError, "expected a string object key")
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		members = append(members, member{key: key, raw: v})
	}
	if _, err := dec.Token(); err != nil { // closing '}'
		return nil, err
	}
	return members, nil
}

func findMember(members []member, key string) (json.RawMessage, bool) {
	for _, m := range members {
		if m.key == key {
			return m.raw, true
		}
	}
	return nil, false
}

// Iterator enumerates the properties of a complete or partial twin
// payload in the §4.5 model order: root desired, root reported, then per
// declared component (in the order supplied) its desired members followed
// by its reported members. Reserved keys ($version at root, __t inside a
// component) never surface.
type Iterator struct {
	version int
	items   []Property
	pos     int
}

// Create parses payload and builds an Iterator. components lists the
// component names known to the device's model; a root-level member name
// is treated as a component if and only if it appears in this list.
func Create(kind PayloadKind, payload []byte, components []string) (*Iterator, int, error) {
	if len(payload) == 0 {
		return nil, 0, common.NewError(common.KindInvalidArg, "payload is empty")
	}
	if kind != PayloadComplete && kind != PayloadPartial {
		return nil, 0, common.NewError(common.KindInvalidArg, "unrecognized payload kind")
	}
	for _, c := range components {
		if c == "" {
			return nil, 0, common.NewError(common.KindInvalidArg, "component list has a blank entry")
		}
	}

	root, err := parseOrderedObject(payload)
	if err != nil {
		return nil, 0, common.Wrap(common.KindError, "parse twin payload", err)
	}

	var desired, reported []member
	switch kind {
	case PayloadComplete:
		if raw, ok := findMember(root, "desired"); ok {
			desired, err = parseOrderedObject(raw)
			if err != nil {
				return nil, 0, common.Wrap(common.KindError, "parse desired", err)
			}
		}
		if raw, ok := findMember(root, "reported"); ok {
			reported, err = parseOrderedObject(raw)
			if err != nil {
				return nil, 0, common.Wrap(common.KindError, "parse reported", err)
			}
		}
	case PayloadPartial:
		desired = root
	}

	version, err := readVersion(desired)
	if err != nil {
		return nil, 0, err
	}

	isComponent := func(key string) bool {
		for _, c := range components {
			if c == key {
				return true
			}
		}
		return false
	}

	var items []Property
	// root-level non-component properties: desired, then reported.
	for _, m := range desired {
		if m.key == "$version" || isComponent(m.key) {
			continue
		}
		items = append(items, newProperty(OriginWritable, "", m))
	}
	for _, m := range reported {
		if m.key == "$version" || isComponent(m.key) {
			continue
		}
		items = append(items, newProperty(OriginReportedFromClient, "", m))
	}

	// per declared component, in the order supplied: its desired members,
	// then its reported members.
	for _, c := range components {
		if raw, ok := findMember(desired, c); ok {
			cm, err := parseOrderedObject(raw)
			if err != nil {
				return nil, 0, common.Wrap(common.KindError, "parse component desired", err)
			}
			for _, m := range cm {
				if m.key == "__t" {
					continue
				}
				items = append(items, newComponentProperty(OriginWritable, c, m))
			}
		}
		if raw, ok := findMember(reported, c); ok {
			cm, err := parseOrderedObject(raw)
			if err != nil {
				return nil, 0, common.Wrap(common.KindError, "parse component reported", err)
			}
			for _, m := range cm {
				if m.key == "__t" {
					continue
				}
				items = append(items, newComponentProperty(OriginReportedFromClient, c, m))
			}
		}
	}

	return &Iterator{version: version, items: items}, version, nil
}

func newProperty(origin Origin, component string, m member) Property {
	v := string(m.raw)
	return Property{Origin: origin, Component: component, Name: m.key, Value: v, ValueLength: len(v), ValueKind: ValueKindString}
}

func newComponentProperty(origin Origin, component string, m member) Property {
	return newProperty(origin, component, m)
}

func readVersion(desired []member) (int, error) {
	raw, ok := findMember(desired, "$version")
	if !ok {
		return 0, common.NewError(common.KindError, "missing $version")
	}
	n, err := strconv.Atoi(string(bytes.TrimSpace(raw)))
	if err != nil {
		return 0, common.Wrap(common.KindError, "non-numeric $version", err)
	}
	return n, nil
}

// GetVersion returns the desired-property version read at Create time.
func (it *Iterator) GetVersion() int {
	return it.version
}

// GetNext returns the next property, or present=false once the iterator
// is exhausted (not an error).
func (it *Iterator) GetNext() (prop Property, present bool, err error) {
	if it.pos >= len(it.items) {
		return Property{}, false, nil
	}
	p := it.items[it.pos]
	it.pos++
	return p, true, nil
}
