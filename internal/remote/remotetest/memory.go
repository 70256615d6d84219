// Package remotetest provides an in-memory remote.Backend with failure
// injection for tests.
package remotetest

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"syncvault/internal/apperr"
	"syncvault/internal/crypto"
	"syncvault/internal/remote"
)

// Operation names used by FailNext and Calls.
const (
	OpTest     = "test"
	OpUpload   = "upload"
	OpDownload = "download"
	OpDelete   = "delete"
	OpList     = "list"
	OpMkdir    = "mkdir"
)

type object struct {
	data    []byte
	modTime time.Time
}

type failure struct {
	kind  apperr.Kind
	match string
}

type Memory struct {
	// Now stamps uploaded objects; defaults to time.Now.
	Now func() time.Time
	// Hook runs before every operation; a non-nil error is returned as is.
	Hook func(ctx context.Context, op, p string) error

	mu       sync.Mutex
	objects  map[string]object
	dirs     map[string]bool
	failures map[string][]failure
	calls    map[string]int
}

var _ remote.Backend = (*Memory)(nil)

func New() *Memory {
	return &Memory{
		objects:  make(map[string]object),
		dirs:     map[string]bool{"/": true},
		failures: make(map[string][]failure),
		calls:    make(map[string]int),
	}
}

// FailNext makes the next n calls of op fail with an error of the given kind.
func (m *Memory) FailNext(op string, n int, kind apperr.Kind) {
	m.FailNextMatching(op, "", n, kind)
}

// FailNextMatching is FailNext restricted to paths containing match.
func (m *Memory) FailNextMatching(op, match string, n int, kind apperr.Kind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for range n {
		m.failures[op] = append(m.failures[op], failure{kind: kind, match: match})
	}
}

// Calls reports how many times op was attempted, including injected failures.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Paths lists stored object paths in order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	paths := make([]string, 0, len(m.objects))
	for p := range m.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Put stores an object directly, bypassing hooks and failures.
func (m *Memory) Put(p string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(remote.Clean(p), data, modTime)
}

func (m *Memory) Get(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[remote.Clean(p)]
	return o.data, ok
}

func (m *Memory) Name() string {
	return "memory"
}

func (m *Memory) TestConnection(ctx context.Context) (bool, string) {
	if err := m.enter(ctx, OpTest, "/"); err != nil {
		return false, err.Error()
	}
	return true, "connected to memory"
}

func (m *Memory) EnsureDir(ctx context.Context, dir string) error {
	dir = remote.Clean(dir)
	if err := m.enter(ctx, OpMkdir, dir); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAll(dir)
	return nil
}

func (m *Memory) Upload(ctx context.Context, p string, content []byte) error {
	p = remote.Clean(p)
	if err := m.enter(ctx, OpUpload, p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(p, content, m.now())
	return nil
}

func (m *Memory) Download(ctx context.Context, p string) ([]byte, error) {
	p = remote.Clean(p)
	if err := m.enter(ctx, OpDownload, p); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[p]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "download "+p, "object not found")
	}
	return append([]byte(nil), o.data...), nil
}

func (m *Memory) Delete(ctx context.Context, p string) error {
	p = remote.Clean(p)
	if err := m.enter(ctx, OpDelete, p); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[p]; ok {
		delete(m.objects, p)
		return nil
	}
	if !m.isDir(p) || p == "/" {
		return apperr.New(apperr.KindNotFound, "delete "+p, "object not found")
	}
	prefix := p + "/"
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			delete(m.objects, k)
		}
	}
	for d := range m.dirs {
		if d == p || strings.HasPrefix(d, prefix) {
			delete(m.dirs, d)
		}
	}
	return nil
}

func (m *Memory) List(ctx context.Context, dir string) ([]remote.ObjectInfo, error) {
	dir = remote.Clean(dir)
	if err := m.enter(ctx, OpList, dir); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.isDir(dir) {
		return nil, apperr.New(apperr.KindNotFound, "list "+dir, "directory not found")
	}

	children := make(map[string]remote.ObjectInfo)
	for p, o := range m.objects {
		if name, ok := child(dir, p); ok {
			if name == path.Base(p) && path.Dir(p) == dir {
				children[p] = remote.ObjectInfo{
					Path:    p,
					Name:    name,
					Size:    int64(len(o.data)),
					ModTime: o.modTime,
					Hash:    crypto.Hash(o.data),
				}
				continue
			}
			d := path.Join(dir, name)
			children[d] = remote.ObjectInfo{Path: d, Name: name, IsDir: true}
		}
	}
	for d := range m.dirs {
		if name, ok := child(dir, d); ok {
			sub := path.Join(dir, name)
			children[sub] = remote.ObjectInfo{Path: sub, Name: name, IsDir: true}
		}
	}

	objects := make([]remote.ObjectInfo, 0, len(children))
	for _, o := range children {
		objects = append(objects, o)
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Path < objects[j].Path })
	return objects, nil
}

func (m *Memory) enter(ctx context.Context, op, p string) error {
	m.mu.Lock()
	m.calls[op]++
	queue := m.failures[op]
	for i, f := range queue {
		if f.match == "" || strings.Contains(p, f.match) {
			m.failures[op] = append(queue[:i:i], queue[i+1:]...)
			m.mu.Unlock()
			return apperr.Errorf(f.kind, op+" "+p, "injected %s failure", f.kind)
		}
	}
	hook := m.Hook
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return apperr.FromTransport(op+" "+p, err)
	}
	if hook != nil {
		return hook(ctx, op, p)
	}
	return nil
}

func (m *Memory) put(p string, data []byte, modTime time.Time) {
	m.objects[p] = object{data: append([]byte(nil), data...), modTime: modTime.UTC()}
	m.mkdirAll(path.Dir(p))
}

func (m *Memory) mkdirAll(dir string) {
	for d := dir; ; d = path.Dir(d) {
		m.dirs[d] = true
		if d == "/" {
			return
		}
	}
}

func (m *Memory) isDir(p string) bool {
	if m.dirs[p] {
		return true
	}
	prefix := strings.TrimSuffix(p, "/") + "/"
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			return true
		}
	}
	return false
}

func (m *Memory) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// child returns the first path segment of p below dir.
func child(dir, p string) (string, bool) {
	prefix := strings.TrimSuffix(dir, "/") + "/"
	if p == dir || !strings.HasPrefix(p, prefix) {
		return "", false
	}
	rest := strings.TrimPrefix(p, prefix)
	name, _, _ := strings.Cut(rest, "/")
	return name, name != ""
}

// Multipart is a Memory that also implements remote.MultipartUploader.
type Multipart struct {
	*Memory

	mu    sync.Mutex
	Parts []int64
}

var _ remote.MultipartUploader = (*Multipart)(nil)

func NewMultipart() *Multipart {
	return &Multipart{Memory: New()}
}

func (m *Multipart) UploadMultipart(ctx context.Context, p string, content []byte, partSize int64) error {
	m.mu.Lock()
	m.Parts = append(m.Parts, partSize)
	m.mu.Unlock()
	return m.Memory.Upload(ctx, p, content)
}
