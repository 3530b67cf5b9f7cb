package handlers

import (
	"fmt"
	"strconv"
)

// parsePositiveInt parses a decimal string that must be >= 1.
func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("value must be positive")
	}
	return n, nil
}
