package typedjson

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/JonMunkholm/csvjson/internal/fileio"
	"github.com/JonMunkholm/csvjson/internal/record"
)

// ErrNotObject is returned by Load when the document is not a JSON object.
var ErrNotObject = errors.New("typedjson: top-level value is not an object")

// Save writes data as indented JSON. It reports failure as (false, message)
// and never panics; callers are expected to show the message to a user.
// The file is replaced atomically and compressed when its suffix asks for it.
func Save(path string, data any, hints bool) (ok bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			ok, msg = false, fmt.Sprintf("error saving JSON: %v", r)
		}
	}()

	if err := save(path, data, hints); err != nil {
		return false, fmt.Sprintf("error saving JSON: %v", err)
	}
	return true, ""
}

func save(path string, data any, hints bool) error {
	tree, err := Serialize(data, hints)
	if err != nil {
		return err
	}
	compact, err := record.Marshal(tree)
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, compact, "", "  "); err != nil {
		return err
	}

	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+filepath.Base(path))
	w, err := fileio.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := w.Write(out.Bytes()); err != nil {
		w.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// LoadObject reads a JSON object keeping key order. With hints, wrapper
// objects are restored to their typed values.
func LoadObject(path string, hints bool) (*record.Object, error) {
	src, err := fileio.Open(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	dec := record.NewDecoder(src)
	v, err := record.Decode(dec)
	if err != nil {
		return nil, fmt.Errorf("typedjson %s: %w", path, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("typedjson %s: %w", path, record.ErrTrailingData)
	}

	if hints {
		v = Deserialize(v)
	}
	obj, ok := v.(*record.Object)
	if !ok {
		return nil, ErrNotObject
	}
	return obj, nil
}

// Load reads a JSON object into a map. Nested objects become
// map[string]any as well. Every failure is returned.
func Load(path string, hints bool) (map[string]any, error) {
	obj, err := LoadObject(path, hints)
	if err != nil {
		return nil, err
	}
	return obj.Map(), nil
}
