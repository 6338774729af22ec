// Package materialize writes downloaded group content to the local output
// tree: one directory per group holding index.csv plus per-event files.
package materialize

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"mdl/internal/fileutil"
	"mdl/internal/momentos"
	"mdl/internal/services"
)

const (
	// IndexFileName maps opaque event IDs back to titles.
	IndexFileName = "index.csv"
	indexHeader   = "ID,Title,Published\n"
	component     = "materialize"
	dirPerm       = 0o755
	filePerm      = 0o644
)

// ContentFunc streams the body of a file into w.
type ContentFunc = fileutil.FillFunc

// Artifact describes a file written under the output root.
type Artifact struct {
	GroupID string
	Name    string
	Ext     string
	Path    string
	Bytes   int64
}

// Materializer writes files below a fixed root directory.
type Materializer struct {
	root   string
	atomic bool
}

// New returns a Materializer rooted at root. With atomic set, files are
// written to a temp sibling and renamed into place on success.
func New(root string, atomic bool) *Materializer {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return &Materializer{root: root, atomic: atomic}
}

// Root returns the output directory.
func (m *Materializer) Root() string {
	return m.root
}

// GroupDirectory returns the path of a group's directory without creating it.
func (m *Materializer) GroupDirectory(groupID string) (string, error) {
	if err := validateSegment("group id", groupID); err != nil {
		return "", err
	}
	return filepath.Join(m.root, groupID), nil
}

// EnsureGroupDirectory creates the group's directory if needed and returns
// its path. Calling it again on an existing directory is a no-op.
func (m *Materializer) EnsureGroupDirectory(groupID string) (string, error) {
	dir, err := m.GroupDirectory(groupID)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return "", services.Wrap(services.ErrFilesystem, component, "ensure group directory", dir, err)
	}
	return dir, nil
}

// WriteIndex writes `<group>/index.csv` from the listing snapshot, replacing
// any previous index. Fields are not escaped, so a comma inside a title
// shifts the columns of that row.
func (m *Materializer) WriteIndex(groupID string, events []momentos.EventSummary) (Artifact, error) {
	dir, err := m.GroupDirectory(groupID)
	if err != nil {
		return Artifact{}, err
	}
	path := filepath.Join(dir, IndexFileName)
	written, err := m.write(path, func(w io.Writer) (int64, error) {
		return encodeIndex(w, events)
	})
	if err != nil {
		return Artifact{}, services.Wrap(services.ErrFilesystem, component, "write index", path, err)
	}
	return Artifact{GroupID: groupID, Name: "index", Ext: "csv", Path: path, Bytes: written}, nil
}

// WriteNamedFile writes `<group>/<name>.<ext>` from content. The file is
// flushed and synced before returning.
func (m *Materializer) WriteNamedFile(groupID, name, ext string, content ContentFunc) (Artifact, error) {
	dir, err := m.GroupDirectory(groupID)
	if err != nil {
		return Artifact{}, err
	}
	if err := validateSegment("file name", name); err != nil {
		return Artifact{}, err
	}
	if err := validateSegment("file extension", ext); err != nil {
		return Artifact{}, err
	}
	path := filepath.Join(dir, name+"."+ext)
	written, err := m.write(path, content)
	if err != nil {
		// Stream failures from content already carry a marker.
		if services.Classify(err) != "unknown" {
			return Artifact{}, fmt.Errorf("write %s: %w", path, err)
		}
		return Artifact{}, services.Wrap(services.ErrFilesystem, component, "write file", path, err)
	}
	return Artifact{GroupID: groupID, Name: name, Ext: ext, Path: path, Bytes: written}, nil
}

// CleanPartials removes temp files left by interrupted atomic writes in the
// group's directory.
func (m *Materializer) CleanPartials(groupID string) (int, error) {
	dir, err := m.GroupDirectory(groupID)
	if err != nil {
		return 0, err
	}
	removed, err := fileutil.RemoveStaleParts(dir)
	if err != nil {
		return removed, services.Wrap(services.ErrFilesystem, component, "clean partial files", dir, err)
	}
	return removed, nil
}

func (m *Materializer) write(path string, content ContentFunc) (int64, error) {
	if m.atomic {
		return fileutil.WriteAtomic(path, filePerm, content)
	}
	return fileutil.WriteInPlace(path, filePerm, content)
}

func encodeIndex(w io.Writer, events []momentos.EventSummary) (int64, error) {
	buffered := bufio.NewWriter(w)
	var written int64
	n, err := buffered.WriteString(indexHeader)
	written += int64(n)
	if err != nil {
		return written, err
	}
	for _, event := range events {
		n, err := buffered.WriteString(event.ID + "," + event.Title + "," + strconv.FormatBool(event.Published) + "\n")
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, buffered.Flush()
}

func validateSegment(label, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return services.Wrap(services.ErrFilesystem, component, "validate path", label+" is empty", nil)
	case value == "." || value == "..":
		return services.Wrap(services.ErrFilesystem, component, "validate path", fmt.Sprintf("%s %q is not a valid path segment", label, value), nil)
	case strings.ContainsAny(value, `/\`) || filepath.IsAbs(value) || strings.ContainsRune(value, 0):
		return services.Wrap(services.ErrFilesystem, component, "validate path", fmt.Sprintf("%s %q contains a path separator", label, value), nil)
	}
	return nil
}
