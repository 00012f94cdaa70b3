package client

import (
	"fmt"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

type ParsedPath struct {
	FullPath string
	Kind     PathKind
}

// ParseArgs validates the local paths to upload. Two arguments that would land
// under the same remote name are rejected.
func ParseArgs(args []string) ([]ParsedPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<paths>", Cause: "no paths provided"}
	}

	var out []ParsedPath
	seen := make(map[string]string, len(args))

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		switch {
		case info.IsDir():
			kind = PathDir
		case !info.Mode().IsRegular():
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file or directory"}
		}

		name := filepath.Base(p)
		if prev, dup := seen[name]; dup {
			return nil, &ValidationError{Arg: raw, Cause: fmt.Sprintf("name collides with %q", prev)}
		}
		seen[name] = raw

		out = append(out, ParsedPath{FullPath: p, Kind: kind})
	}

	return out, nil
}
