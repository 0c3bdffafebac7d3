package model

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"

	"github.com/ezoic/bart/pkg/errors"
)

// FormatVersion is the 8-byte ASCII prefix written ahead of every persisted
// model. Future incompatible changes to the serialized body bump this.
const FormatVersion = "00.08.00"

// Persistable is implemented by models that know how to encode/decode their
// own fitted state. Estimators embed unexported fields (coefficient
// matrices, tree arenas) that gob's reflection-based default codec cannot
// reach, so every persistable model supplies its own GobEncode/GobDecode.
type Persistable interface {
	gob.GobEncoder
	gob.GobDecoder
}

// SaveModel writes m's fitted state to path, prefixed by FormatVersion.
// On any failure after the file is created, the partial file is removed.
func SaveModel(m Persistable, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.NewIOError("failed to create file", path, err)
	}

	if err := SaveModelToWriter(m, f); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}

	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return errors.NewIOError("failed to close file", path, err)
	}

	return nil
}

// SaveModelToWriter writes m's fitted state to w, prefixed by FormatVersion.
func SaveModelToWriter(m Persistable, w io.Writer) error {
	if _, err := io.WriteString(w, FormatVersion); err != nil {
		return errors.NewIOError("failed to write version prefix", "", err)
	}

	if err := gob.NewEncoder(w).Encode(m); err != nil {
		return errors.NewIOError("failed to encode model", "", err)
	}

	return nil
}

// LoadModel decodes path's contents into m, which must already be of the
// concrete type that was saved (matching scikit-learn's load-into-an-
// instance convention rather than returning a fresh `any`).
func LoadModel(m Persistable, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewIOError("failed to open file", path, err)
	}
	defer func() { _ = f.Close() }()

	return LoadModelFromReader(m, f)
}

// LoadModelFromReader decodes r's contents into m.
func LoadModelFromReader(m Persistable, r io.Reader) error {
	prefix := make([]byte, len(FormatVersion))
	if _, err := io.ReadFull(r, prefix); err != nil {
		return errors.NewIOError("failed to read version prefix", "", err)
	}
	if string(prefix) != FormatVersion {
		return errors.NewIOError("unsupported format version", "", errors.Newf("got %q, want %q", prefix, FormatVersion))
	}

	if err := gob.NewDecoder(r).Decode(m); err != nil {
		return errors.NewIOError("failed to decode model", "", err)
	}

	return nil
}

// EncodeGob is a convenience helper for Persistable implementations: gob-
// encode an internal state struct to a byte slice for use as a GobEncode
// body.
func EncodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, errors.NewIOError("failed to gob-encode", "", err)
	}
	return buf.Bytes(), nil
}

// DecodeGob is the inverse of EncodeGob.
func DecodeGob(data []byte, v interface{}) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return errors.NewIOError("failed to gob-decode", "", err)
	}
	return nil
}
