package core

import "github.com/3cpo-dev/sputra/internal/result"

// Results maps the magnetron keys of one Simulate call to their combined
// output, in selection order.
type Results struct {
	keys    []string
	outputs map[string]*result.Output
}

func newResults(n int) *Results {
	return &Results{keys: make([]string, 0, n), outputs: make(map[string]*result.Output, n)}
}

func (r *Results) put(key string, out *result.Output) {
	if _, ok := r.outputs[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.outputs[key] = out
}

// Keys returns the keys in selection order.
func (r *Results) Keys() []string {
	return append([]string(nil), r.keys...)
}

func (r *Results) Get(key string) (*result.Output, bool) {
	out, ok := r.outputs[key]
	return out, ok
}

func (r *Results) Len() int { return len(r.keys) }

// Only returns the sole entry of a one-key result.
func (r *Results) Only() (*result.Output, bool) {
	if len(r.keys) != 1 {
		return nil, false
	}
	return r.outputs[r.keys[0]], true
}
