package cache

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
)

// FileStore keeps the whole map in memory and persists it to one file.
type FileStore struct {
	path  string
	codec codec
	data  map[string]json.RawMessage
}

// NewFileStore returns a store backed by path. Nothing is read until the
// first access.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path, codec: codecFor(path)}
}

func (s *FileStore) Get(_ context.Context, key string) (json.RawMessage, bool, error) {
	data, err := s.load()
	if err != nil {
		return nil, false, err
	}
	v, ok := data[key]
	return v, ok, nil
}

func (s *FileStore) Set(_ context.Context, key string, value json.RawMessage) error {
	data, err := s.load()
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("cache set %q: invalid JSON", key)
	}
	data[key] = append(json.RawMessage(nil), value...)
	return s.save()
}

func (s *FileStore) Remove(_ context.Context, key string) error {
	data, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := data[key]; !ok {
		return nil
	}
	delete(data, key)
	return s.save()
}

func (s *FileStore) Keys(_ context.Context) ([]string, error) {
	data, err := s.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileStore) load() (map[string]json.RawMessage, error) {
	if s.data != nil {
		return s.data, nil
	}
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.data = map[string]json.RawMessage{}
		return s.data, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache read %s: %w", s.path, err)
	}
	data, err := s.codec.decode(raw, s.path)
	if err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", s.path, err)
	}
	if data == nil {
		data = map[string]json.RawMessage{}
	}
	s.data = data
	return s.data, nil
}

func (s *FileStore) save() error {
	raw, err := s.codec.encode(s.data, s.path)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", s.path, err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache dir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("cache write %s: %w", s.path, err)
	}
	return nil
}

type codec interface {
	decode(raw []byte, path string) (map[string]json.RawMessage, error)
	encode(data map[string]json.RawMessage, path string) ([]byte, error)
}

func codecFor(path string) codec {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return zipCodec{}
	case ".bson":
		return bsonCodec{}
	default:
		return jsonCodec{}
	}
}

type jsonCodec struct{}

func (jsonCodec) decode(raw []byte, _ string) (map[string]json.RawMessage, error) {
	var data map[string]json.RawMessage
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

func (jsonCodec) encode(data map[string]json.RawMessage, _ string) ([]byte, error) {
	return json.Marshal(data)
}

// zipCodec stores the JSON document as a single deflated entry named after
// the archive: cache.zip holds cache.json.
type zipCodec struct{}

func zipEntryName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base)) + ".json"
}

func (zipCodec) decode(raw []byte, path string) (map[string]json.RawMessage, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, err
	}
	name := zipEntryName(path)
	f, err := zr.Open(name)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", name, err)
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	return jsonCodec{}.decode(content, path)
}

func (zipCodec) encode(data map[string]json.RawMessage, path string) ([]byte, error) {
	content, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: zipEntryName(path), Method: zip.Deflate})
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(content); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// bsonCodec stores the map as one BSON document. Values go through their
// generic JSON form, so only JSON-representable data survives.
type bsonCodec struct{}

func (bsonCodec) decode(raw []byte, _ string) (map[string]json.RawMessage, error) {
	dec, err := bson.NewDecoder(bsonrw.NewBSONDocumentReader(raw))
	if err != nil {
		return nil, err
	}
	dec.DefaultDocumentM()
	var doc bson.M
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	data := make(map[string]json.RawMessage, len(doc))
	for k, v := range doc {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		data[k] = b
	}
	return data, nil
}

func (bsonCodec) encode(data map[string]json.RawMessage, _ string) ([]byte, error) {
	doc := make(bson.M, len(data))
	for k, raw := range data {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("key %q: %w", k, err)
		}
		doc[k] = v
	}
	return bson.Marshal(doc)
}
