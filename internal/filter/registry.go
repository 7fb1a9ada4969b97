package filter

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnsupportedFormat is returned when a requested output format has no
// registered profile.
var ErrUnsupportedFormat = errors.New("unsupported format")

type Kind string

const (
	KindImageLoop Kind = "image_loop"
	KindVideo     Kind = "video"
)

// Profile describes how one output format is encoded: the graph shape, the
// base filter chain and the extra encoder arguments placed after the filter.
type Profile struct {
	Kind   Kind
	Base   string
	Build  GraphBuilder
	Params []string
}

// Graph returns the complete filter graph for this profile with overlay
// (which may be empty) appended to the base chain.
func (p Profile) Graph(overlay string) string {
	return p.Build(p.Base, overlay)
}

// Registry maps format names to profiles. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewRegistry() *Registry {
	return &Registry{profiles: make(map[string]Profile)}
}

// DefaultRegistry returns a registry holding the built-in gif, mp4 and webm
// profiles.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("gif", Profile{
		Kind:  KindImageLoop,
		Base:  ImageLoopBase,
		Build: BuildImageLoopGraph,
	})
	_ = r.Register("mp4", Profile{
		Kind:   KindVideo,
		Base:   VideoBase,
		Build:  BuildVideoGraph,
		Params: []string{"-an", "-c:v", "libx264", "-pix_fmt", "yuv420p", "-b:v", "0", "-crf", "25"},
	})
	_ = r.Register("webm", Profile{
		Kind:   KindVideo,
		Base:   VideoBase,
		Build:  BuildVideoGraph,
		Params: []string{"-an", "-c:v", "libvpx-vp9", "-b:v", "0", "-crf", "32"},
	})
	return r
}

// NormalizeName lower-cases a format name and strips a leading dot.
func NormalizeName(name string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), ".")
}

// Register adds or replaces the profile for name.
func (r *Registry) Register(name string, p Profile) error {
	name = NormalizeName(name)
	if name == "" {
		return fmt.Errorf("format name is required")
	}
	if p.Build == nil {
		return fmt.Errorf("format %s: graph builder is required", name)
	}

	r.mu.Lock()
	r.profiles[name] = p
	r.mu.Unlock()
	return nil
}

// Lookup returns the profile registered for name.
func (r *Registry) Lookup(name string) (Profile, error) {
	name = NormalizeName(name)
	r.mu.RLock()
	p, ok := r.profiles[name]
	r.mu.RUnlock()
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, name)
	}
	return p, nil
}

// Names returns the registered format names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	ret := make([]string, 0, len(r.profiles))
	for name := range r.profiles {
		ret = append(ret, name)
	}
	r.mu.RUnlock()
	slices.Sort(ret)
	return ret
}

// Validate normalizes and de-duplicates names, keeping their order, and
// fails with ErrUnsupportedFormat listing every unknown name.
func (r *Registry) Validate(names []string) ([]string, error) {
	ret := make([]string, 0, len(names))
	var unknown []string

	r.mu.RLock()
	for _, name := range names {
		name = NormalizeName(name)
		if name == "" || slices.Contains(ret, name) {
			continue
		}
		if _, ok := r.profiles[name]; !ok {
			unknown = append(unknown, name)
			continue
		}
		ret = append(ret, name)
	}
	r.mu.RUnlock()

	if len(unknown) > 0 {
		return nil, fmt.Errorf("%w: %s (supported: %s)",
			ErrUnsupportedFormat, strings.Join(unknown, ", "), strings.Join(r.Names(), ", "))
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("at least one output format is required")
	}
	return ret, nil
}
