package fetchcache

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/karlseguin/ccache/v3"
)

// Cached entries live until their partition is dropped by a version
// rollover or evicted by the LRU. The TTL is effectively "forever".
const entryTTL = 365 * 24 * time.Hour

// Entry is a cached HTTP response in storable form.
type Entry struct {
	Status int
	Header http.Header
	Body   []byte
}

// Response rebuilds a servable *http.Response from the cached entry.
func (e *Entry) Response(req *http.Request) *http.Response {
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        e.Header.Clone(),
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

// Partition is one named cache bucket. The router keeps one for the
// static application shell and one for listing data, both versioned.
type Partition struct {
	name string
	c    *ccache.Cache[*Entry]
	mux  sync.Mutex
}

func newPartition(name string) *Partition {
	return &Partition{
		name: name,
		c: ccache.New(
			ccache.Configure[*Entry]().
				MaxSize(1000).
				GetsPerPromote(3).
				ItemsToPrune(1),
		),
		mux: sync.Mutex{},
	}
}

func (p *Partition) Name() string {
	return p.name
}

func (p *Partition) Get(key string) *Entry {
	p.mux.Lock()
	defer p.mux.Unlock()
	item := p.c.Get(key)
	if item == nil || item.Expired() {
		return nil
	}
	return item.Value()
}

func (p *Partition) Put(key string, e *Entry) {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.c.Set(key, e, entryTTL)
}

func (p *Partition) stop() {
	p.mux.Lock()
	defer p.mux.Unlock()
	p.c.Stop()
}

// PartitionStore is the registry of named partitions. Version rollover
// walks it and drops every partition whose name is not current.
type PartitionStore struct {
	mux        sync.Mutex
	partitions map[string]*Partition
}

func NewPartitionStore() *PartitionStore {
	return &PartitionStore{
		mux:        sync.Mutex{},
		partitions: make(map[string]*Partition),
	}
}

// Open returns the named partition, creating it when absent.
func (s *PartitionStore) Open(name string) *Partition {
	s.mux.Lock()
	defer s.mux.Unlock()
	if p, ok := s.partitions[name]; ok {
		return p
	}
	p := newPartition(name)
	s.partitions[name] = p
	return p
}

func (s *PartitionStore) Names() []string {
	s.mux.Lock()
	defer s.mux.Unlock()
	names := make([]string, 0, len(s.partitions))
	for name := range s.partitions {
		names = append(names, name)
	}
	return names
}

// DeleteOthers drops every partition whose name is not in keep and
// returns the dropped names.
func (s *PartitionStore) DeleteOthers(keep ...string) []string {
	s.mux.Lock()
	defer s.mux.Unlock()

	kept := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		kept[name] = struct{}{}
	}

	var dropped []string
	for name, p := range s.partitions {
		if _, ok := kept[name]; ok {
			continue
		}
		p.stop()
		delete(s.partitions, name)
		dropped = append(dropped, name)
	}
	return dropped
}
