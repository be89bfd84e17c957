package dynatx

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// AttrType tags the kind of a single AttributeValue, since this store is schemaless and
// attribute values carry their own dynamic type.
type AttrType string

// The six attribute types the store's wire form supports.
const (
	TypeS  AttrType = "S"
	TypeN  AttrType = "N"
	TypeB  AttrType = "B"
	TypeSS AttrType = "SS"
	TypeNS AttrType = "NS"
	TypeBS AttrType = "BS"
)

// AttributeValue is the tagged-union value type reused by the key descriptor, item maps, and
// the WAL's stored images. It is the one explicit type the value-encoding helpers and
// expression-builder DSL (served in practice by aws-sdk-go-v2/feature/dynamodb/attributevalue
// and .../expression) are built around.
type AttributeValue struct {
	Type AttrType
	Str  string
	Bin  []byte
	SS   []string
	NS   []string
	BS   [][]byte
}

// S builds a string-typed AttributeValue.
func S(v string) AttributeValue { return AttributeValue{Type: TypeS, Str: v} }

// N builds a numeric-typed AttributeValue. v is the numeric value already rendered as a string,
// matching the store's own N encoding.
func N(v string) AttributeValue { return AttributeValue{Type: TypeN, Str: v} }

// B builds a binary-typed AttributeValue.
func B(v []byte) AttributeValue { return AttributeValue{Type: TypeB, Bin: v} }

// SSet builds a string-set-typed AttributeValue.
func SSet(v ...string) AttributeValue { return AttributeValue{Type: TypeSS, SS: v} }

// NSet builds a numeric-set-typed AttributeValue.
func NSet(v ...string) AttributeValue { return AttributeValue{Type: TypeNS, NS: v} }

// BSet builds a binary-set-typed AttributeValue.
func BSet(v ...[]byte) AttributeValue { return AttributeValue{Type: TypeBS, BS: v} }

// Item is a full attribute map, e.g. a row returned by get_item or supplied to put_item.
type Item map[string]AttributeValue

// Key is the canonical typed key representation {attr_name: {type_tag: value}} that the Key
// Resolver (component A) produces and every store.Client call consumes.
type Key map[string]AttributeValue

// Clone returns a shallow copy of the item, deep enough that mutating the returned map's
// top-level entries doesn't affect the original.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	out := make(Item, len(it))
	for k, v := range it {
		out[k] = v
	}
	return out
}

type attrValueWire struct {
	S  *string  `json:"S,omitempty"`
	N  *string  `json:"N,omitempty"`
	B  *string  `json:"B,omitempty"`
	SS []string `json:"SS,omitempty"`
	NS []string `json:"NS,omitempty"`
	BS []string `json:"BS,omitempty"`
}

// MarshalJSON renders the AttributeValue in the store's canonical {"TYPE": value} shape.
func (av AttributeValue) MarshalJSON() ([]byte, error) {
	var w attrValueWire
	switch av.Type {
	case TypeS:
		w.S = &av.Str
	case TypeN:
		w.N = &av.Str
	case TypeB:
		enc := base64.StdEncoding.EncodeToString(av.Bin)
		w.B = &enc
	case TypeSS:
		w.SS = av.SS
	case TypeNS:
		w.NS = av.NS
	case TypeBS:
		w.BS = make([]string, len(av.BS))
		for i, b := range av.BS {
			w.BS[i] = base64.StdEncoding.EncodeToString(b)
		}
	default:
		return nil, fmt.Errorf("attrvalue: unknown type %q", av.Type)
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the {"TYPE": value} wire shape back into an AttributeValue.
func (av *AttributeValue) UnmarshalJSON(b []byte) error {
	var w attrValueWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch {
	case w.S != nil:
		*av = S(*w.S)
	case w.N != nil:
		*av = N(*w.N)
	case w.B != nil:
		raw, err := base64.StdEncoding.DecodeString(*w.B)
		if err != nil {
			return err
		}
		*av = B(raw)
	case w.SS != nil:
		*av = SSet(w.SS...)
	case w.NS != nil:
		*av = NSet(w.NS...)
	case w.BS != nil:
		bs := make([][]byte, len(w.BS))
		for i, s := range w.BS {
			raw, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return err
			}
			bs[i] = raw
		}
		*av = BSet(bs...)
	default:
		return fmt.Errorf("attrvalue: empty wire value")
	}
	return nil
}

// Equal reports whether av and other represent the same typed value.
func (av AttributeValue) Equal(other AttributeValue) bool {
	b1, err1 := av.MarshalJSON()
	b2, err2 := other.MarshalJSON()
	if err1 != nil || err2 != nil {
		return false
	}
	return string(b1) == string(b2)
}
