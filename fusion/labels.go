package fusion

import (
	"sort"

	"github.com/pkg/errors"
)

// ClassLabelMap translates 2D detector labels into the 3D label space.
//
// The map is partial: a 2D label without an entry has no 3D counterpart and
// its detections are discarded before matching. It is injective, so every
// mapped label can be translated back with Inverse. A nil *ClassLabelMap
// means both detectors already share one label space.
type ClassLabelMap struct {
	forward map[int]int
	inverse map[int]int
}

// NewClassLabelMap validates m and wraps it.
func NewClassLabelMap(m map[int]int) (*ClassLabelMap, error) {
	forward := make(map[int]int, len(m))
	inverse := make(map[int]int, len(m))

	// Sorted so the reported collision does not depend on map order.
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	for _, from := range keys {
		to := m[from]
		if from <= 0 || to <= 0 {
			return nil, errors.Errorf("class label map entry %d -> %d: labels are 1-indexed", from, to)
		}
		if prev, ok := inverse[to]; ok {
			return nil, errors.Errorf("class label map is not injective: %d and %d both map to %d", prev, from, to)
		}
		forward[from] = to
		inverse[to] = from
	}
	return &ClassLabelMap{forward: forward, inverse: inverse}, nil
}

// Map returns the 3D label for a 2D label.
func (c *ClassLabelMap) Map(label2D int) (int, bool) {
	if c == nil {
		return label2D, true
	}
	to, ok := c.forward[label2D]
	return to, ok
}

// Inverse returns the 2D label for a 3D label.
func (c *ClassLabelMap) Inverse(label3D int) (int, bool) {
	if c == nil {
		return label3D, true
	}
	from, ok := c.inverse[label3D]
	return from, ok
}

// Len returns the number of mapped labels.
func (c *ClassLabelMap) Len() int {
	if c == nil {
		return 0
	}
	return len(c.forward)
}
