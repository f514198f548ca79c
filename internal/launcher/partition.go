// Package launcher partitions the input range across worker instances on
// one host and manages their processes.
package launcher

// Range is a half-open slot interval assigned to one instance.
type Range struct {
	Start int
	End   int
}

// Partition splits [start, end) into n contiguous, disjoint, near-equal
// ranges covering it exactly. The split is deterministic so every host
// computes the same layout. Empty tail ranges are dropped when there are
// fewer items than instances.
func Partition(start, end, n int) []Range {
	if n < 1 || end <= start {
		return nil
	}
	total := end - start
	if n > total {
		n = total
	}

	size := total / n
	rem := total % n

	out := make([]Range, 0, n)
	cursor := start
	for i := 0; i < n; i++ {
		span := size
		if i < rem {
			span++
		}
		out = append(out, Range{Start: cursor, End: cursor + span})
		cursor += span
	}
	return out
}

// MachineRange resolves a machine tag to its configured slot range over an
// input of total items. Tags without a configured range get everything.
func MachineRange(ranges map[string][]int, tag string, total int) Range {
	if r, ok := ranges[tag]; ok && len(r) == 2 {
		end := r[1]
		if end <= 0 || end > total {
			end = total
		}
		return Range{Start: r[0], End: end}
	}
	return Range{Start: 0, End: total}
}
