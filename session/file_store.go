package session

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/m4xw311/spark/errors"
)

var unsafeKeyChars = regexp.MustCompile(`[^\w\-]`)

type metadataLine struct {
	Type      string    `json:"_type"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FileStore keeps one JSONL file per session: a metadata line followed by
// one message per line.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create session directory")
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) path(key string) string {
	return filepath.Join(f.dir, unsafeKeyChars.ReplaceAllString(key, "_")+".jsonl")
}

func (f *FileStore) Load(key string) (*Session, error) {
	file, err := os.Open(f.path(key))
	if os.IsNotExist(err) {
		return nil, errors.ErrSessionNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not open session file")
	}
	defer file.Close()

	s := New(key)
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.Contains(line, `"_type":"metadata"`) {
			var meta metadataLine
			if err := json.Unmarshal([]byte(line), &meta); err != nil {
				return nil, errors.Wrapf(err, "could not parse session metadata")
			}
			s.CreatedAt, s.UpdatedAt = meta.CreatedAt, meta.UpdatedAt
			continue
		}
		var msg Message
		if err := json.Unmarshal([]byte(line), &msg); err != nil {
			return nil, errors.Wrapf(err, "could not parse session message")
		}
		s.Messages = append(s.Messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "could not read session file")
	}
	return s, nil
}

// Save rewrites the whole file through a temp file and rename.
func (f *FileStore) Save(s *Session) error {
	tmp, err := os.CreateTemp(f.dir, ".session-*")
	if err != nil {
		return errors.Wrapf(err, "could not create temp session file")
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if err := enc.Encode(metadataLine{Type: "metadata", Key: s.Key, CreatedAt: s.CreatedAt, UpdatedAt: s.UpdatedAt}); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to serialize session")
	}
	for _, m := range s.Messages {
		if err := enc.Encode(m); err != nil {
			tmp.Close()
			return errors.Wrapf(err, "failed to serialize message")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "could not write session file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "could not write session file")
	}
	return os.Rename(tmp.Name(), f.path(s.Key))
}

func (f *FileStore) Delete(key string) error {
	err := os.Remove(f.path(key))
	if os.IsNotExist(err) {
		return errors.ErrSessionNotFound
	}
	return err
}

func (f *FileStore) List() ([]Info, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session directory")
	}
	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		info, err := f.readInfo(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.After(infos[j].UpdatedAt) })
	return infos, nil
}

func (f *FileStore) readInfo(path string) (Info, error) {
	file, err := os.Open(path)
	if err != nil {
		return Info{}, err
	}
	defer file.Close()

	var info Info
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	first := true
	for scanner.Scan() {
		if first {
			first = false
			var meta metadataLine
			if err := json.Unmarshal(scanner.Bytes(), &meta); err != nil || meta.Type != "metadata" {
				return Info{}, errors.New("missing metadata line in %s", path)
			}
			info = Info{Key: meta.Key, CreatedAt: meta.CreatedAt, UpdatedAt: meta.UpdatedAt}
			continue
		}
		if len(strings.TrimSpace(scanner.Text())) > 0 {
			info.Messages++
		}
	}
	return info, scanner.Err()
}

func (f *FileStore) Close() error { return nil }
