package table

import (
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/strata/pkg/strataerrors"
)

// writeJSONAtomic replaces path with v encoded as JSON. The content is
// written to a temporary file in the same directory, synced and renamed
// over path, so a crash leaves either the old or the new file.
func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to encode").
			WithDetail("path", path)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to create temporary file").
			WithDetail("path", path)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to write").WithDetail("path", path)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to sync").WithDetail("path", path)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to close").WithDetail("path", path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to rename").WithDetail("path", path)
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir) //nolint:gosec // G304: directory under the catalog root
	if err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to open directory").WithDetail("path", dir)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to sync directory").WithDetail("path", dir)
	}
	return nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: file under the catalog root
	if err != nil {
		if os.IsNotExist(err) {
			return strataerrors.Wrap(err, strataerrors.ErrorTypeNotFound, "file does not exist").
				WithDetail("path", path)
		}
		return strataerrors.Wrap(err, strataerrors.ErrorTypeIO, "failed to read").WithDetail("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return strataerrors.Wrap(err, strataerrors.ErrorTypeOpen, "failed to decode").WithDetail("path", path)
	}
	return nil
}
