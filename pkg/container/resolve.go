// Package container decides how a vector dataset path should be opened.
//
// Folder-style containers (File Geodatabases and GeoPackages) hold several
// named layers under one path. Callers address a layer by appending its bare
// name to the container path, e.g. "parcels.gpkg/fields_2019". Resolution is a
// syntactic heuristic, not a format probe: it never fails and never touches the
// filesystem.
package container

import (
	"os"
	"strings"
)

// Suffixes recognized as folder-style containers.
var containerSuffixes = []string{".gdb", ".gpkg"}

// OpenSpec describes how to open a vector dataset. It is immutable once built.
type OpenSpec struct {
	path     string
	layer    string
	hasLayer bool
}

// NewOpenSpec builds an OpenSpec directly. An empty layer means none.
func NewOpenSpec(path, layer string) OpenSpec {
	return OpenSpec{path: path, layer: layer, hasLayer: layer != ""}
}

// Path is the file or container to open.
func (s OpenSpec) Path() string { return s.path }

// Layer returns the layer name inside the container, if one was resolved.
func (s OpenSpec) Layer() (string, bool) { return s.layer, s.hasLayer }

// WithPath returns a copy of s addressing a different path, keeping the layer.
// Used after a remote container has been staged locally.
func (s OpenSpec) WithPath(path string) OpenSpec {
	s.path = path
	return s
}

func (s OpenSpec) String() string {
	if s.hasLayer {
		return s.path + " (layer " + s.layer + ")"
	}
	return s.path
}

// Resolve splits path into parent and leaf. When the parent ends with a
// container suffix and the leaf has no '.', the leaf is taken as a layer name
// inside the parent; otherwise path is opened as-is with no layer.
func Resolve(path string) OpenSpec {
	parent, leaf := split(path)
	if leaf != "" && !strings.Contains(leaf, ".") && hasContainerSuffix(parent) {
		return OpenSpec{path: parent, layer: leaf, hasLayer: true}
	}
	return OpenSpec{path: path}
}

func hasContainerSuffix(p string) bool {
	for _, suffix := range containerSuffixes {
		if strings.HasSuffix(p, suffix) {
			return true
		}
	}
	return false
}

// split separates the last path element from its parent, trimming
// separators from the end of the parent. Both '/' and the OS separator count.
func split(path string) (parent, leaf string) {
	i := strings.LastIndexFunc(path, isSeparator)
	if i < 0 {
		return "", path
	}
	parent, leaf = path[:i+1], path[i+1:]
	trimmed := strings.TrimRightFunc(parent, isSeparator)
	if trimmed != "" {
		parent = trimmed
	}
	return parent, leaf
}

func isSeparator(r rune) bool {
	return r == '/' || r == os.PathSeparator
}
