package website

import (
	"errors"
	"fmt"
	"sort"

	"github.com/abdulachik/multipost/internal/submission"
)

// ErrNotFound is returned for site ids that are not registered.
var ErrNotFound = errors.New("website not registered")

// Entry pairs an adapter with its descriptor for registration.
type Entry struct {
	Adapter    Website
	Descriptor Descriptor
}

// Handle is a registered adapter together with its descriptor.
type Handle struct {
	Website
	Descriptor Descriptor
}

// Option configures a Registry at construction.
type Option func(*Registry)

// WithAdvertisement appends the advertisement footer to descriptions of sites
// that do not disable it.
func WithAdvertisement() Option {
	return func(r *Registry) {
		r.format.Advertise = true
	}
}

// Registry maps site ids to adapters. It is immutable once built and safe for
// concurrent use without locking.
type Registry struct {
	entries map[string]Handle
	ids     []string
	format  FormatOptions
}

// NewRegistry builds a registry. Duplicate ids and descriptors that do not
// match their adapter are rejected.
func NewRegistry(entries []Entry, opts ...Option) (*Registry, error) {
	r := &Registry{entries: make(map[string]Handle, len(entries))}

	for _, e := range entries {
		if e.Adapter == nil {
			return nil, fmt.Errorf("registry entry %q has no adapter", e.Descriptor.ID)
		}
		id := e.Adapter.ID()
		if e.Descriptor.ID != id {
			return nil, fmt.Errorf("descriptor id %q does not match adapter %q", e.Descriptor.ID, id)
		}
		if _, dup := r.entries[id]; dup {
			return nil, fmt.Errorf("website %q registered twice", id)
		}
		r.entries[id] = Handle{Website: e.Adapter, Descriptor: e.Descriptor}
		r.ids = append(r.ids, id)
		if e.Descriptor.UsernameShortcut != nil {
			r.format.Shortcuts = append(r.format.Shortcuts, *e.Descriptor.UsernameShortcut)
		}
	}
	sort.Strings(r.ids)

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

// Get returns the handle for a site id.
func (r *Registry) Get(id string) (Handle, error) {
	h, ok := r.entries[id]
	if !ok {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return h, nil
}

// ValidatorsFor returns the validators of the given sites in input order.
func (r *Registry) ValidatorsFor(ids []string) ([]ValidateFunc, error) {
	fns := make([]ValidateFunc, 0, len(ids))
	for _, id := range ids {
		h, err := r.Get(id)
		if err != nil {
			return nil, err
		}
		fns = append(fns, h.Validate)
	}
	return fns, nil
}

// IDs returns every registered site id, sorted.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Descriptors returns the descriptors of every registered site, sorted by id.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.entries[id].Descriptor)
	}
	return out
}

// FormatContent resolves the tags and description of a submission for one site.
func (r *Registry) FormatContent(sub *submission.Submission, site string) (Content, error) {
	h, err := r.Get(site)
	if err != nil {
		return Content{}, err
	}
	return FormatContent(sub, h.Descriptor, r.format), nil
}
