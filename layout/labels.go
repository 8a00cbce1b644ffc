package layout

import (
	"math"

	"github.com/pkg/errors"
)

// PrepareLabels converts a label vector to int32 values reduced modulo k, one per point.
//
// Accepted inputs are []int, []int32, []int64, []float32 and []float64 (float labels must be finite and are
// truncated toward zero). A nil labels assigns every point to cluster 0.
//
// The reduction is a true modulo: negative labels are mapped into [0, k) as well.
func PrepareLabels(labels any, rows, k int) ([]int32, error) {
	if k <= 0 {
		return nil, errors.Errorf("PrepareLabels: k must be positive, got %d", k)
	}
	out := make([]int32, rows)
	if labels == nil {
		return out, nil
	}
	var n int
	switch l := labels.(type) {
	case []int:
		n = len(l)
		if n == rows {
			for i, v := range l {
				out[i] = modK(int64(v), k)
			}
		}
	case []int32:
		n = len(l)
		if n == rows {
			for i, v := range l {
				out[i] = modK(int64(v), k)
			}
		}
	case []int64:
		n = len(l)
		if n == rows {
			for i, v := range l {
				out[i] = modK(v, k)
			}
		}
	case []float32:
		n = len(l)
		if n == rows {
			for i, v := range l {
				if err := checkLabel(float64(v), i); err != nil {
					return nil, err
				}
				out[i] = modK(int64(v), k)
			}
		}
	case []float64:
		n = len(l)
		if n == rows {
			for i, v := range l {
				if err := checkLabel(v, i); err != nil {
					return nil, err
				}
				out[i] = modK(int64(v), k)
			}
		}
	default:
		return nil, errors.Errorf("PrepareLabels: unsupported labels type %T", labels)
	}
	if n != rows {
		return nil, errors.Wrapf(ErrBadShape, "got %d labels for %d points", n, rows)
	}
	return out, nil
}

func checkLabel(v float64, i int) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errors.Wrapf(ErrNonFinite, "label %d is %g", i, v)
	}
	return nil
}

// NormalizeLabels reduces labels in place modulo k, so they are all in [0, k).
func NormalizeLabels(labels []int32, k int) {
	for i, v := range labels {
		labels[i] = modK(int64(v), k)
	}
}

func modK(v int64, k int) int32 {
	m := v % int64(k)
	if m < 0 {
		m += int64(k)
	}
	return int32(m)
}
