package variables

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sup-oac/oactree"
	"github.com/sup-oac/oactree/value"
)

func init() {
	oactree.RegisterVariableKind("File", NewFile)
}

// File reads/writes a JSON {"type":...,"value":...} envelope on every
// access. Attributes: "file" (path, mandatory). SetValue writes atomically
// via write-then-rename, fsyncing the temp file before the rename and its
// containing directory after it so a crash never exposes a half-written
// file (§4.3).
type File struct {
	mu   sync.Mutex
	path string
	reg  *value.TypeRegistry
}

// NewFile builds a File variable factory from its raw attribute map.
func NewFile(attributes map[string]string) (oactree.Variable, error) {
	path, ok := attributes["file"]
	if !ok || path == "" {
		return nil, fmt.Errorf("oactree/variables: File requires a non-empty \"file\" attribute")
	}
	return &File{path: path}, nil
}

// Setup records the type registry used to decode the file's contents; it
// does not require the file to exist yet (GetValue/IsAvailable surface
// that).
func (f *File) Setup(types *value.TypeRegistry) error {
	f.mu.Lock()
	f.reg = types
	f.mu.Unlock()
	return nil
}

// Teardown is a no-op: File holds no in-process state beyond the path.
func (f *File) Teardown() {}

// GetValue reads and decodes the file's current JSON envelope.
func (f *File) GetValue() (value.Value, error) {
	f.mu.Lock()
	path, reg := f.path, f.reg
	f.mu.Unlock()
	data, err := os.ReadFile(path)
	if err != nil {
		return value.Value{}, fmt.Errorf("oactree/variables: File read %s: %w", path, err)
	}
	return value.FromJSON(reg, data)
}

// SetValue encodes v and writes it atomically.
func (f *File) SetValue(v value.Value) bool {
	f.mu.Lock()
	path := f.path
	f.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return writeFileAtomic(path, data) == nil
}

// IsAvailable reports whether the backing file currently exists.
func (f *File) IsAvailable() bool {
	f.mu.Lock()
	path := f.path
	f.mu.Unlock()
	_, err := os.Stat(path)
	return err == nil
}

// NotifyListeners is a no-op: fan-out is driven by the Workspace.
func (f *File) NotifyListeners() {}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := fsyncFile(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return fsyncDir(dir)
}
