// ABOUTME: In-memory process dump: named allocator dumps, scalars, ownership edges
// ABOUTME: Serializes to JSON for offline inspection of snapshot collections

// Package dump provides a ready-made sink for snapshot collections. A
// ProcessDump accumulates named allocator dumps with scalar statistics and
// ownership edges, and serializes the result as JSON. Embedders with their
// own tracing infrastructure implement the sink interfaces directly and
// ignore this package.
package dump

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/prateek/marksweep/gc"
)

// Scalar is one named statistic inside an allocator dump.
type Scalar struct {
	Name  string `json:"name"`
	Units string `json:"units"`
	Value uint64 `json:"value"`
}

// AllocatorDump is one named dump. Names are slash-separated paths, e.g.
// "managedheap/thread_1/heaps/Vector1Heap".
type AllocatorDump struct {
	mu      sync.Mutex
	name    string
	scalars []Scalar
}

// Name returns the dump's path.
func (d *AllocatorDump) Name() string { return d.name }

// AddScalar records a statistic.
func (d *AllocatorDump) AddScalar(name, units string, value uint64) {
	d.mu.Lock()
	d.scalars = append(d.scalars, Scalar{Name: name, Units: units, Value: value})
	d.mu.Unlock()
}

// Scalar returns the recorded value by name.
func (d *AllocatorDump) Scalar(name string) (Scalar, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.scalars {
		if s.Name == name {
			return s, true
		}
	}
	return Scalar{}, false
}

// OwnershipEdge records that source's memory is owned by target, so
// aggregation does not double count it.
type OwnershipEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// ProcessDump collects allocator dumps for one snapshot.
type ProcessDump struct {
	mu    sync.Mutex
	dumps map[string]*AllocatorDump
	edges []OwnershipEdge
}

// NewProcessDump creates an empty dump.
func NewProcessDump() *ProcessDump {
	return &ProcessDump{dumps: make(map[string]*AllocatorDump)}
}

// CreateAllocatorDump returns the dump registered under name, creating it
// on first use. The AllocatorDump return type satisfies the collector's
// sink interface.
func (p *ProcessDump) CreateAllocatorDump(name string) *AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d, ok := p.dumps[name]; ok {
		return d
	}
	d := &AllocatorDump{name: name}
	p.dumps[name] = d
	return d
}

// AddOwnershipEdge records an ownership edge between two dump paths.
func (p *ProcessDump) AddOwnershipEdge(source, target string) {
	p.mu.Lock()
	p.edges = append(p.edges, OwnershipEdge{Source: source, Target: target})
	p.mu.Unlock()
}

// Dump returns the allocator dump registered under name, or nil.
func (p *ProcessDump) Dump(name string) *AllocatorDump {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dumps[name]
}

// DumpNames returns all registered dump paths, sorted.
func (p *ProcessDump) DumpNames() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.dumps))
	for name := range p.dumps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Sink adapts a ProcessDump to the collector's snapshot sink interface.
type Sink struct {
	Process *ProcessDump
}

// NewSink creates a sink feeding p.
func NewSink(p *ProcessDump) Sink {
	return Sink{Process: p}
}

// CreateAllocatorDump implements gc.DumpSink.
func (s Sink) CreateAllocatorDump(name string) gc.AllocatorDumper {
	return s.Process.CreateAllocatorDump(name)
}

// AddOwnershipEdge implements gc.DumpSink.
func (s Sink) AddOwnershipEdge(source, target string) {
	s.Process.AddOwnershipEdge(source, target)
}

type dumpJSON struct {
	Name    string   `json:"name"`
	Scalars []Scalar `json:"scalars"`
}

type processDumpJSON struct {
	Dumps []dumpJSON      `json:"dumps"`
	Edges []OwnershipEdge `json:"edges,omitempty"`
}

// WriteJSON serializes the dump, with dumps sorted by path for stable
// output.
func (p *ProcessDump) WriteJSON(w io.Writer) error {
	p.mu.Lock()
	out := processDumpJSON{Edges: p.edges}
	for _, name := range p.dumpNamesLocked() {
		d := p.dumps[name]
		d.mu.Lock()
		out.Dumps = append(out.Dumps, dumpJSON{Name: d.name, Scalars: d.scalars})
		d.mu.Unlock()
	}
	p.mu.Unlock()

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func (p *ProcessDump) dumpNamesLocked() []string {
	names := make([]string, 0, len(p.dumps))
	for name := range p.dumps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
