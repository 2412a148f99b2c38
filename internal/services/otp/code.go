// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
)

// GenerateCode returns a uniformly random decimal code in [lo, hi].
func GenerateCode(lo, hi int) (string, error) {
	if lo < 0 || hi < lo {
		return "", fmt.Errorf("invalid code range [%d, %d]", lo, hi)
	}

	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)+1))
	if err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return strconv.FormatInt(int64(lo)+n.Int64(), 10), nil
}
