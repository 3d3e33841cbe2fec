package types

import (
	"fmt"
	"strconv"
	"strings"
)

// InitialVersion is the version of every newly synthesized model.
const InitialVersion = "1.0.0"

// BumpPatch increments the patch component of a semantic version.
func BumpPatch(version string) (string, error) {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid version %q", version)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return "", fmt.Errorf("invalid version %q", version)
		}
		nums[i] = n
	}
	return fmt.Sprintf("%d.%d.%d", nums[0], nums[1], nums[2]+1), nil
}

// PatchOf returns the patch component of a semantic version, or -1.
func PatchOf(version string) int {
	parts := strings.Split(strings.TrimPrefix(version, "v"), ".")
	if len(parts) != 3 {
		return -1
	}
	n, err := strconv.Atoi(parts[2])
	if err != nil {
		return -1
	}
	return n
}
