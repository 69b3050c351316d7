package update

import (
	"strconv"
	"strings"
	"unicode"
)

// NormalizeVersion trims surrounding whitespace and strips any leading
// non-numeric marker ("v1.2.0", "release-1.2.0" -> "1.2.0"). A string with no
// digits at all is returned trimmed but otherwise untouched.
func NormalizeVersion(s string) string {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsDigit)
	if i <= 0 {
		return s
	}
	return s[i:]
}

// CompareVersions orders two version strings, returning -1, 0 or 1.
//
// Components are split on "." and compared pairwise: as unsigned integers when
// both sides parse, lexicographically otherwise. The shorter version is padded
// with "0" components, so "1.2" equals "1.2.0". Malformed input never fails; it
// just falls back to string comparison.
func CompareVersions(a, b string) int {
	as := strings.Split(NormalizeVersion(a), ".")
	bs := strings.Split(NormalizeVersion(b), ".")

	n := max(len(as), len(bs))
	for i := 0; i < n; i++ {
		x, y := "0", "0"
		if i < len(as) && as[i] != "" {
			x = as[i]
		}
		if i < len(bs) && bs[i] != "" {
			y = bs[i]
		}
		if c := compareComponent(x, y); c != 0 {
			return c
		}
	}
	return 0
}

func compareComponent(x, y string) int {
	xn, xerr := strconv.ParseUint(x, 10, 64)
	yn, yerr := strconv.ParseUint(y, 10, 64)
	if xerr == nil && yerr == nil {
		switch {
		case xn < yn:
			return -1
		case xn > yn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(x, y)
}
