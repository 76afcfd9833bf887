package tree

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// step is one hop of a parsed path: a struct field, optionally followed by
// array indices (1-based)
type step struct {
	name    string
	indices []int
}

// ComposeStructFieldPath returns the path of field name inside structPath
func ComposeStructFieldPath(structPath, name string) string {
	if structPath == "" {
		return name
	}
	return structPath + "/" + name
}

// ComposeArrayItemPath returns the path of the index-th item (1-based) of arrayPath
func ComposeArrayItemPath(arrayPath string, index int) string {
	return arrayPath + "[" + strconv.Itoa(index) + "]"
}

func parsePath(path string) ([]step, error) {
	if path == "" {
		return nil, nil
	}
	parts := strings.Split(path, "/")
	steps := make([]step, 0, len(parts))
	for _, part := range parts {
		st, err := parseStep(part)
		if err != nil {
			return nil, errors.Wrapf(err, "path %q", path)
		}
		steps = append(steps, st)
	}
	return steps, nil
}

func parseStep(part string) (step, error) {
	open := strings.IndexByte(part, '[')
	if open < 0 {
		if part == "" || strings.ContainsRune(part, ']') {
			return step{}, errors.Wrapf(ErrBadPath, "segment %q", part)
		}
		return step{name: part}, nil
	}
	st := step{name: part[:open]}
	if st.name == "" {
		return step{}, errors.Wrapf(ErrBadPath, "segment %q has no name", part)
	}
	rest := part[open:]
	for rest != "" {
		end := strings.IndexByte(rest, ']')
		if rest[0] != '[' || end < 0 {
			return step{}, errors.Wrapf(ErrBadPath, "segment %q", part)
		}
		idx, err := strconv.Atoi(rest[1:end])
		if err != nil || idx < 1 {
			return step{}, errors.Wrapf(ErrBadPath, "index in segment %q", part)
		}
		st.indices = append(st.indices, idx)
		rest = rest[end+1:]
	}
	return st, nil
}
