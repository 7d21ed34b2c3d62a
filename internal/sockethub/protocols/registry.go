package protocols

import (
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Registry holds the descriptors of the enabled platforms.
type Registry struct {
	mu          sync.RWMutex
	enabled     []string
	descriptors map[string]*Descriptor
}

// NewRegistry creates a registry that accepts descriptors for platforms.
func NewRegistry(platforms []string) *Registry {
	return &Registry{
		enabled:     append([]string(nil), platforms...),
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds d, replacing any earlier descriptor for the same platform.
func (r *Registry) Register(d *Descriptor) error {
	if !slices.Contains(r.enabled, d.Name) {
		return ErrUnknownPlatform.Msg("platform not enabled: " + d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors[d.Name] = d
	return nil
}

// Lookup returns the descriptor for platform.
func (r *Registry) Lookup(platform string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[platform]
	return d, ok
}

// Accepts reports whether platform is registered and declares verb.
func (r *Registry) Accepts(platform, verb string) bool {
	d, ok := r.Lookup(platform)
	return ok && d.Accepts(verb)
}

// Descriptors returns the registered descriptors sorted by platform name.
func (r *Registry) Descriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LoadDir registers every .json, .yaml and .yml descriptor in dir and
// returns how many were loaded. The first invalid file aborts the load.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, ErrInvalidDescriptor.Err(err)
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".yaml", ".yml":
		default:
			continue
		}
		d, err := LoadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return n, err
		}
		if err := r.Register(d); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
