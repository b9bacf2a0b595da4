package blob

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. FailPut and FailDelete let tests
// inject storage faults.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memObject
	now     func() time.Time

	FailPut    error
	FailDelete error
}

type memObject struct {
	data    []byte
	modTime time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memObject),
		now:     time.Now,
	}
}

// PutAt stores a blob with an explicit modification time.
func (s *MemoryStore) PutAt(name string, data []byte, modTime time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = memObject{data: append([]byte(nil), data...), modTime: modTime}
}

func (s *MemoryStore) Put(ctx context.Context, name string, r io.Reader) error {
	if s.FailPut != nil {
		return s.FailPut
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.PutAt(name, data, s.now())
	return nil
}

func (s *MemoryStore) Get(_ context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	obj, ok := s.objects[name]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemoryStore) Delete(_ context.Context, name string) error {
	if s.FailDelete != nil {
		return s.FailDelete
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, name)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[name]
	return ok, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Object, 0, len(s.objects))
	for name, obj := range s.objects {
		out = append(out, Object{Name: name, Size: int64(len(obj.data)), ModTime: obj.modTime})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*LocalStore)(nil)
)
