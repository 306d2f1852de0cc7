package docstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Memory is an in-process Store. Values pass through a BSON round trip on
// every write and read, so callers observe the same types as with MongoDB.
type Memory struct {
	mu          sync.RWMutex
	collections map[string]map[string]*memDoc
	seq         int64
	subs        map[int64]*memSub
	nextSub     int64
}

type memDoc struct {
	data bson.M
	seq  int64
}

type memSub struct {
	path   string
	notify chan struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		collections: make(map[string]map[string]*memDoc),
		subs:        make(map[int64]*memSub),
	}
}

var _ Store = (*Memory)(nil)

func (m *Memory) Get(ctx context.Context, path, id string) (Document, bool, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.collections[path][id]
	if !ok {
		return Document{}, false, nil
	}
	out, err := Clone(d.data)
	if err != nil {
		return Document{}, false, err
	}
	return Document{ID: id, Data: out}, true, nil
}

func (m *Memory) Set(ctx context.Context, path, id string, data bson.M, opts SetOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := Clone(data)
	if err != nil {
		return fmt.Errorf("set %s/%s: %w", path, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(path)
	if d, ok := coll[id]; ok && opts.Merge {
		for k, v := range in {
			d.data[k] = v
		}
	} else if ok {
		d.data = in
	} else {
		m.seq++
		coll[id] = &memDoc{data: in, seq: m.seq}
	}
	m.notifyLocked(path)
	return nil
}

func (m *Memory) Create(ctx context.Context, path, id string, data bson.M) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	in, err := Clone(data)
	if err != nil {
		return fmt.Errorf("create %s/%s: %w", path, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	coll := m.collection(path)
	if _, ok := coll[id]; ok {
		return fmt.Errorf("create %s/%s: %w", path, id, ErrAlreadyExists)
	}
	m.seq++
	coll[id] = &memDoc{data: in, seq: m.seq}
	m.notifyLocked(path)
	return nil
}

func (m *Memory) Add(ctx context.Context, path string, data bson.M) (string, error) {
	id := uuid.NewString()
	if err := m.Create(ctx, path, id, data); err != nil {
		return "", err
	}
	return id, nil
}

func (m *Memory) Update(ctx context.Context, path, id string, u Update) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	set, err := Clone(u.Set)
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", path, id, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.collections[path][id]
	if !ok {
		return fmt.Errorf("update %s/%s: %w", path, id, ErrNotFound)
	}
	for k, v := range set {
		setPath(d.data, k, v)
	}
	for k, delta := range u.Inc {
		cur, _ := lookup(d.data, k)
		n, _ := toFloat(cur)
		setPath(d.data, k, int64(n)+delta)
	}
	m.notifyLocked(path)
	return nil
}

func (m *Memory) Find(ctx context.Context, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	type hit struct {
		id  string
		doc *memDoc
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []hit
	for id, d := range m.collections[q.Path] {
		if matches(Document{ID: id, Data: d.data}, q) {
			hits = append(hits, hit{id: id, doc: d})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if q.Order != "" {
			a, _ := lookup(hits[i].doc.data, q.Order)
			b, _ := lookup(hits[j].doc.data, q.Order)
			if c := compareValues(a, b); c != 0 {
				if q.Direction == Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return hits[i].doc.seq < hits[j].doc.seq
	})
	if q.Limit > 0 && int64(len(hits)) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]Document, 0, len(hits))
	for _, h := range hits {
		data, err := Clone(h.doc.data)
		if err != nil {
			return nil, err
		}
		out = append(out, Document{ID: h.id, Data: data})
	}
	return out, nil
}

func (m *Memory) Subscribe(ctx context.Context, q Query, onChange func([]Document), onError func(error)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &memSub{path: q.Path, notify: make(chan struct{}, 1)}
	sub.notify <- struct{}{}

	m.mu.Lock()
	m.nextSub++
	key := m.nextSub
	m.subs[key] = sub
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-subCtx.Done():
				return
			case <-sub.notify:
			}
			docs, err := m.Find(subCtx, q)
			if subCtx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(docs)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			m.mu.Lock()
			delete(m.subs, key)
			m.mu.Unlock()
		})
	}, nil
}

func (m *Memory) collection(path string) map[string]*memDoc {
	coll, ok := m.collections[path]
	if !ok {
		coll = make(map[string]*memDoc)
		m.collections[path] = coll
	}
	return coll
}

// notifyLocked wakes every subscriber on path; pending wakeups coalesce.
func (m *Memory) notifyLocked(path string) {
	for _, s := range m.subs {
		if s.path != path {
			continue
		}
		select {
		case s.notify <- struct{}{}:
		default:
		}
	}
}

func setPath(data map[string]any, path string, v any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, p := range parts[:len(parts)-1] {
		next, ok := AsMap(cur[p])
		if !ok {
			next = bson.M{}
		}
		cur[p] = bson.M(next)
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}
