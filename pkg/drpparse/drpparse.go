package drpparse

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var whereVisitRegex = regexp.MustCompile(`(?i)visit\s*(?:=\s*(\d+)|IN\s*\(([\d,\s]+)\))`)

// armNums arm name to raw filename digit
var armNums = map[string]int{"b": 1, "r": 2, "n": 3, "m": 4}

// VisitList parses "a..b" (inclusive range) or "a^b^c".
func VisitList(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty visit list")
	}

	if lo, hi, ok := strings.Cut(s, ".."); ok {
		first, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid visit range %q: %w", s, err)
		}
		last, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("invalid visit range %q: %w", s, err)
		}
		if last < first {
			return nil, fmt.Errorf("invalid visit range %q: upper bound below lower bound", s)
		}
		visits := make([]int, 0, last-first+1)
		for v := first; v <= last; v++ {
			visits = append(visits, v)
		}
		return visits, nil
	}

	parts := strings.Split(s, "^")
	visits := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid visit %q: %w", p, err)
		}
		visits = append(visits, v)
	}
	return visits, nil
}

// ArmPattern glob character class of arm digits, "*" when arms is empty.
func ArmPattern(arms string) (string, error) {
	if arms == "" {
		return "*", nil
	}
	var b strings.Builder
	for _, arm := range strings.Split(arms, "^") {
		num, ok := armNums[arm]
		if !ok {
			return "", fmt.Errorf("unknown arm %q", arm)
		}
		b.WriteString(strconv.Itoa(num))
	}
	return "[" + b.String() + "]", nil
}

// SpectrographPattern glob character class of spectrograph digits.
func SpectrographPattern(specs string) string {
	if specs == "" {
		return "*"
	}
	return "[" + strings.ReplaceAll(specs, "^", "") + "]"
}

// VisitPattern glob matching the raw files of one visit under root.
func VisitPattern(root string, visit int, specs, arms string) (string, error) {
	armPattern, err := ArmPattern(arms)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/*/sps/PFSA%06d%s%s.fits", strings.TrimRight(root, "/"), visit, SpectrographPattern(specs), armPattern), nil
}

// WhereClause selects a set of visits.
func WhereClause(visits []int) string {
	if len(visits) == 1 {
		return fmt.Sprintf("visit=%d", visits[0])
	}
	sorted := append([]int(nil), visits...)
	sort.Ints(sorted)
	strs := make([]string, len(sorted))
	for i, v := range sorted {
		strs[i] = strconv.Itoa(v)
	}
	return fmt.Sprintf("visit IN (%s)", strings.Join(strs, ", "))
}

// VisitsFromWhere extracts the visits a where clause selects, nil when it
// does not select visits explicitly.
func VisitsFromWhere(where string) []int {
	var visits []int
	for _, m := range whereVisitRegex.FindAllStringSubmatch(where, -1) {
		if m[1] != "" {
			v, _ := strconv.Atoi(m[1])
			visits = append(visits, v)
			continue
		}
		for _, f := range strings.Split(m[2], ",") {
			if v, err := strconv.Atoi(strings.TrimSpace(f)); err == nil {
				visits = append(visits, v)
			}
		}
	}
	return visits
}
