package migration

import (
	"strconv"
	"strings"
)

// compareVersions compares two semver-like version strings
// segment-wise as integers, treating missing segments as 0, per spec
// §4.8's rollback ordering rule. It returns -1, 0, or 1.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	n := len(as)
	if len(bs) > n {
		n = len(bs)
	}
	for i := 0; i < n; i++ {
		av := segmentAt(as, i)
		bv := segmentAt(bs, i)
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func segmentAt(segments []string, i int) int {
	if i >= len(segments) {
		return 0
	}
	n, err := strconv.Atoi(segments[i])
	if err != nil {
		return 0
	}
	return n
}
