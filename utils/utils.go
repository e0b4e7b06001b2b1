package utils

import (
	"cmp"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
)

var sizeShift = map[byte]uint{'k': 10, 'K': 10, 'm': 20, 'M': 20, 'g': 30, 'G': 30}

// ParseSize reads a byte count with an optional K, M or G suffix. A bare
// number is scaled by unit, which is empty or one of the same suffixes.
func ParseSize(s, unit string) (int, error) {
	num := s
	if n := len(s); n > 0 {
		if _, ok := sizeShift[s[n-1]]; ok {
			num, unit = s[:n-1], s[n-1:]
		}
	}
	if num == "" {
		return -1, fmt.Errorf("size %q: %w", s, strconv.ErrSyntax)
	}
	v, err := strconv.ParseUint(num, 0, 63)
	if err != nil {
		return -1, fmt.Errorf("size %q: %w", s, err)
	}

	var shift uint
	if unit != "" {
		var ok bool
		shift, ok = sizeShift[unit[0]]
		if !ok || len(unit) != 1 {
			return -1, fmt.Errorf("size unit %q: %w", unit, strconv.ErrSyntax)
		}
	}
	if v > math.MaxInt>>shift {
		return -1, fmt.Errorf("size %q: %w", s, strconv.ErrRange)
	}
	return int(v) << shift, nil
}

// GetParams returns the value of the first key=value entry for key.
func GetParams(args []string, key string) string {
	for _, l := range args {
		name, value, ok := strings.Cut(l, "=")
		if !ok {
			continue
		}
		if name == key {
			return value
		}
	}
	return ""
}

// compareVersion orders dotted release numbers field by field. When one
// is a prefix of the other the shorter one sorts first.
func compareVersion(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := range min(len(as), len(bs)) {
		x, _ := strconv.Atoi(as[i])
		y, _ := strconv.Atoi(bs[i])
		if c := cmp.Compare(x, y); c != 0 {
			return c
		}
	}
	return cmp.Compare(len(as), len(bs))
}

var kernelRelease = regexp.MustCompile(`^(\d+\.\d+\.\d+)`)

// CheckKernelVersion fails when the host kernel is older than minVersion.
func CheckKernelVersion(minVersion string) error {
	output, err := exec.Command("uname", "-r").Output()
	if err != nil {
		return fmt.Errorf("failed to get kernel version: %w", err)
	}
	return checkRelease(strings.TrimSpace(string(output)), minVersion)
}

func checkRelease(release, minVersion string) error {
	match := kernelRelease.FindStringSubmatch(release)
	if len(match) < 2 {
		return fmt.Errorf("failed to parse kernel version: %s", release)
	}
	if compareVersion(match[1], minVersion) < 0 {
		return fmt.Errorf("host kernel %s is older than %s", match[1], minVersion)
	}
	return nil
}
