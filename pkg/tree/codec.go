package tree

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Wire layout: every node is a structpb struct with a kind tag "k".
//   struct: {"k":"struct", "f":[{"n":name, "v":node}, ...]}
//   array:  {"k":"array",  "i":[node, ...]}
//   leaf:   {"k":"leaf",   "v":value}
// Any node may carry "q": {qualifier: value}.

const (
	keyKind   = "k"
	keyFields = "f"
	keyItems  = "i"
	keyName   = "n"
	keyValue  = "v"
	keyQuals  = "q"
)

// Serialize encodes the whole document. The output is deterministic, so equal
// documents produce equal bytes.
func (d *Document) Serialize() ([]byte, error) {
	buf, err := proto.MarshalOptions{Deterministic: true}.Marshal(encodeNode(d.root))
	if err != nil {
		return nil, errors.Wrap(err, "tree: serialize")
	}
	return buf, nil
}

// Parse decodes a buffer produced by Serialize
func Parse(buf []byte) (*Document, error) {
	var v structpb.Value
	if err := proto.Unmarshal(buf, &v); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "unmarshal: %v", err)
	}
	root, err := decodeNode(&v)
	if err != nil {
		return nil, err
	}
	if root.kind != KindStruct {
		return nil, errors.Wrapf(ErrMalformed, "root is a %s", root.kind)
	}
	return &Document{root: root}, nil
}

func encodeNode(n *node) *structpb.Value {
	out := map[string]*structpb.Value{
		keyKind: structpb.NewStringValue(n.kind.String()),
	}
	switch n.kind {
	case KindStruct:
		fields := make([]*structpb.Value, 0, len(n.fields))
		for _, f := range n.fields {
			fields = append(fields, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
				keyName:  structpb.NewStringValue(f.name),
				keyValue: encodeNode(f.n),
			}}))
		}
		out[keyFields] = structpb.NewListValue(&structpb.ListValue{Values: fields})
	case KindArray:
		items := make([]*structpb.Value, 0, len(n.items))
		for _, it := range n.items {
			items = append(items, encodeNode(it))
		}
		out[keyItems] = structpb.NewListValue(&structpb.ListValue{Values: items})
	case KindLeaf:
		out[keyValue] = structpb.NewStringValue(n.value)
	}
	if len(n.quals) > 0 {
		quals := make(map[string]*structpb.Value, len(n.quals))
		for k, v := range n.quals {
			quals[k] = structpb.NewStringValue(v)
		}
		out[keyQuals] = structpb.NewStructValue(&structpb.Struct{Fields: quals})
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: out})
}

func decodeNode(v *structpb.Value) (*node, error) {
	s := v.GetStructValue()
	if s == nil {
		return nil, errors.Wrap(ErrMalformed, "node is not a struct")
	}
	fields := s.GetFields()

	var n *node
	switch kind := fields[keyKind].GetStringValue(); kind {
	case "struct":
		n = newNode(KindStruct)
		for _, fv := range fields[keyFields].GetListValue().GetValues() {
			entry := fv.GetStructValue().GetFields()
			name, ok := entry[keyName].GetKind().(*structpb.Value_StringValue)
			if !ok || name.StringValue == "" {
				return nil, errors.Wrap(ErrMalformed, "struct field without a name")
			}
			sub, err := decodeNode(entry[keyValue])
			if err != nil {
				return nil, errors.Wrapf(err, "field %q", name.StringValue)
			}
			n.fields = append(n.fields, field{name: name.StringValue, n: sub})
		}
	case "array":
		n = newNode(KindArray)
		for i, iv := range fields[keyItems].GetListValue().GetValues() {
			sub, err := decodeNode(iv)
			if err != nil {
				return nil, errors.Wrapf(err, "item %d", i+1)
			}
			n.items = append(n.items, sub)
		}
	case "leaf":
		val, ok := fields[keyValue].GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, errors.Wrap(ErrMalformed, "leaf without a string value")
		}
		n = newNode(KindLeaf)
		n.value = val.StringValue
	default:
		return nil, errors.Wrapf(ErrMalformed, "unknown node kind %q", kind)
	}

	if q := fields[keyQuals].GetStructValue(); q != nil {
		n.quals = make(map[string]string, len(q.GetFields()))
		for k, qv := range q.GetFields() {
			sv, ok := qv.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return nil, errors.Wrapf(ErrMalformed, "qualifier %q is not a string", k)
			}
			n.quals[k] = sv.StringValue
		}
	}
	return n, nil
}
