package metadata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemStore is an in-memory Store. A coarse mutex serializes transactions
// and a copy-on-begin snapshot restores pre-transaction state when the
// transaction function returns an error, giving the same all-or-nothing
// contract as the Postgres store. Used by tests and by the storage-free
// development mode.
type MemStore struct {
	mu   sync.Mutex
	data memData

	// Now is the transaction clock; tests override it to control
	// refcount timestamps.
	Now func() time.Time
}

type memData struct {
	files   map[string]File
	blobs   map[string]Blob
	uploads map[string]Upload
	config  *StoredConfig
}

func NewMemStore() *MemStore {
	return &MemStore{
		data: memData{
			files:   make(map[string]File),
			blobs:   make(map[string]Blob),
			uploads: make(map[string]Upload),
		},
		Now: time.Now,
	}
}

func (s *MemStore) RunTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(&memTx{store: s}); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

func (d memData) clone() memData {
	out := memData{
		files:   make(map[string]File, len(d.files)),
		blobs:   make(map[string]Blob, len(d.blobs)),
		uploads: make(map[string]Upload, len(d.uploads)),
	}
	for k, v := range d.files {
		out.files[k] = copyFile(v)
	}
	for k, v := range d.blobs {
		out.blobs[k] = v
	}
	for k, v := range d.uploads {
		out.uploads[k] = v
	}
	if d.config != nil {
		cfg := *d.config
		out.config = &cfg
	}
	return out
}

func copyFile(f File) File {
	if f.ExpiresAt != nil {
		t := *f.ExpiresAt
		f.ExpiresAt = &t
	}
	return f
}

// memTx operates on the store's live data; RunTx restores the snapshot on
// error, so partial mutations never leak.
type memTx struct {
	store *MemStore
}

func (t *memTx) GetFile(path string) (*File, error) {
	f, ok := t.store.data.files[path]
	if !ok {
		return nil, nil
	}
	f = copyFile(f)
	return &f, nil
}

func (t *memTx) InsertFile(f File) error {
	if _, exists := t.store.data.files[f.Path]; exists {
		return fmt.Errorf("file %q already exists", f.Path)
	}
	t.store.data.files[f.Path] = copyFile(f)
	return nil
}

func (t *memTx) UpdateFile(f File) error {
	if _, exists := t.store.data.files[f.Path]; !exists {
		return fmt.Errorf("file %q does not exist", f.Path)
	}
	t.store.data.files[f.Path] = copyFile(f)
	return nil
}

func (t *memTx) DeleteFile(path string) error {
	if _, exists := t.store.data.files[path]; !exists {
		return fmt.Errorf("file %q does not exist", path)
	}
	delete(t.store.data.files, path)
	return nil
}

func (t *memTx) GetBlob(id string) (*Blob, error) {
	b, ok := t.store.data.blobs[id]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (t *memTx) InsertBlob(b Blob) error {
	if _, exists := t.store.data.blobs[b.BlobID]; exists {
		return fmt.Errorf("blob %q already exists", b.BlobID)
	}
	t.store.data.blobs[b.BlobID] = b
	return nil
}

func (t *memTx) AddRef(id string, delta int) error {
	b, ok := t.store.data.blobs[id]
	if !ok {
		return fmt.Errorf("blob %q does not exist", id)
	}
	b.RefCount += delta
	if b.RefCount < 0 {
		return fmt.Errorf("blob %q refcount would go negative", id)
	}
	b.UpdatedAt = t.store.Now().UTC()
	t.store.data.blobs[id] = b
	return nil
}

func (t *memTx) DeleteBlob(id string) error {
	if _, exists := t.store.data.blobs[id]; !exists {
		return fmt.Errorf("blob %q does not exist", id)
	}
	delete(t.store.data.blobs, id)
	return nil
}

func (t *memTx) GetUpload(id string) (*Upload, error) {
	u, ok := t.store.data.uploads[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (t *memTx) InsertUpload(u Upload) error {
	if _, exists := t.store.data.uploads[u.BlobID]; exists {
		return fmt.Errorf("upload %q already exists", u.BlobID)
	}
	t.store.data.uploads[u.BlobID] = u
	return nil
}

func (t *memTx) UpdateUpload(u Upload) error {
	if _, exists := t.store.data.uploads[u.BlobID]; !exists {
		return fmt.Errorf("upload %q does not exist", u.BlobID)
	}
	t.store.data.uploads[u.BlobID] = u
	return nil
}

func (t *memTx) DeleteUpload(id string) error {
	if _, exists := t.store.data.uploads[id]; !exists {
		return fmt.Errorf("upload %q does not exist", id)
	}
	delete(t.store.data.uploads, id)
	return nil
}

func (t *memTx) ListFiles(prefix, after string, limit int) ([]File, error) {
	paths := make([]string, 0, len(t.store.data.files))
	for p := range t.store.data.files {
		if prefix != "" && !strings.HasPrefix(p, prefix) {
			continue
		}
		if p <= after {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	if len(paths) > limit {
		paths = paths[:limit]
	}
	out := make([]File, 0, len(paths))
	for _, p := range paths {
		out = append(out, copyFile(t.store.data.files[p]))
	}
	return out, nil
}

func (t *memTx) ExpiredUploads(now time.Time, limit int) ([]Upload, error) {
	var out []Upload
	for _, u := range t.store.data.uploads {
		if u.ExpiresAt.Before(now) {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) OrphanedBlobs(cutoff time.Time, limit int) ([]Blob, error) {
	var out []Blob
	for _, b := range t.store.data.blobs {
		if b.RefCount == 0 && !b.UpdatedAt.After(cutoff) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) ExpiredFiles(now time.Time, limit int) ([]File, error) {
	var out []File
	for _, f := range t.store.data.files {
		if f.ExpiresAt != nil && f.ExpiresAt.Before(now) {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (t *memTx) GetConfig() (*StoredConfig, error) {
	if t.store.data.config == nil {
		return nil, nil
	}
	cfg := *t.store.data.config
	return &cfg, nil
}

func (t *memTx) PutConfig(cfg Config, checksum string) error {
	stored := StoredConfig{
		Config:    cfg,
		Checksum:  checksum,
		UpdatedAt: t.store.Now().UTC(),
	}
	if t.store.data.config != nil {
		stored.FreezeGC = t.store.data.config.FreezeGC
	}
	t.store.data.config = &stored
	return nil
}

func (t *memTx) SetFreezeGC(frozen bool) error {
	if t.store.data.config == nil {
		return ErrNotConfigured
	}
	t.store.data.config.FreezeGC = frozen
	return nil
}

func (t *memTx) Stats() (*Stats, error) {
	stats := &Stats{
		Files:          int64(len(t.store.data.files)),
		Blobs:          int64(len(t.store.data.blobs)),
		PendingUploads: int64(len(t.store.data.uploads)),
	}
	for _, b := range t.store.data.blobs {
		if b.RefCount == 0 {
			stats.OrphanedBlobs++
		} else {
			stats.ReferencedBytes += b.Size
		}
	}
	return stats, nil
}
