// ABOUTME: Query helpers over record collections
// ABOUTME: Simple selectors plus expression filters compiled with expr-lang

package metadata

import (
	"github.com/expr-lang/expr"
	"github.com/pkg/errors"
)

// Set is an ordered selection of records
type Set []*Metadata

// BySchema selects records whose descriptor belongs to schemaName
func (s Set) BySchema(schemaName string) Set {
	return s.where(func(md *Metadata) bool { return md.SchemaName() == schemaName })
}

// ByName selects records of one descriptor
func (s Set) ByName(schemaName, name string) Set {
	return s.where(func(md *Metadata) bool {
		return md.SchemaName() == schemaName && md.Name() == name
	})
}

// ByFrameIndex selects records whose frame range covers index
func (s Set) ByFrameIndex(index int64) Set {
	return s.where(func(md *Metadata) bool {
		if md.frameIndex == UndefinedFrameIndex {
			return false
		}
		if md.numFrames == UndefinedFrameCount {
			return md.frameIndex == index
		}
		return index >= md.frameIndex && index < md.frameIndex+md.numFrames
	})
}

// ByReference selects records holding a reference named name
func (s Set) ByReference(name string) Set {
	return s.where(func(md *Metadata) bool {
		for _, r := range md.refs {
			if r.Name == name {
				return true
			}
		}
		return false
	})
}

// IDs returns the ids of the selection in order
func (s Set) IDs() []ID {
	ids := make([]ID, 0, len(s))
	for _, md := range s {
		ids = append(ids, md.id)
	}
	return ids
}

func (s Set) where(keep func(*Metadata) bool) Set {
	var out Set
	for _, md := range s {
		if keep(md) {
			out = append(out, md)
		}
	}
	return out
}

// Filter selects records for which the boolean expression code holds.
// The expression sees id, schema, name, frameIndex, numFrames, timestamp,
// duration and fields (a map of field name to plain Go value).
func (s Set) Filter(code string) (Set, error) {
	program, err := expr.Compile(code, expr.Env(filterEnv(nil)), expr.AsBool())
	if err != nil {
		return nil, errors.Wrapf(ErrBadFilter, "compile %q: %v", code, err)
	}

	var out Set
	for _, md := range s {
		res, err := expr.Run(program, filterEnv(md))
		if err != nil {
			return nil, errors.Wrapf(ErrBadFilter, "record %d: %v", md.id, err)
		}
		if ok, _ := res.(bool); ok {
			out = append(out, md)
		}
	}
	return out, nil
}

func filterEnv(md *Metadata) map[string]any {
	env := map[string]any{
		"id":         int64(0),
		"schema":     "",
		"name":       "",
		"frameIndex": int64(0),
		"numFrames":  int64(0),
		"timestamp":  int64(0),
		"duration":   int64(0),
		"fields":     map[string]any{},
	}
	if md == nil {
		return env
	}
	fields := make(map[string]any, len(md.fields))
	for _, fv := range md.fields {
		if fv.Name != "" {
			fields[fv.Name] = fv.Value.Interface()
		}
	}
	env["id"] = int64(md.id)
	env["schema"] = md.SchemaName()
	env["name"] = md.Name()
	env["frameIndex"] = md.frameIndex
	env["numFrames"] = md.numFrames
	env["timestamp"] = md.timestamp
	env["duration"] = md.duration
	env["fields"] = fields
	return env
}
