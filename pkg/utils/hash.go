package utils

import (
	"crypto/md5"
	"fmt"
)

// CacheKey derives a stable cache key from arbitrary text.
func CacheKey(input string) string {
	hash := md5.Sum([]byte(input))
	return fmt.Sprintf("%x", hash)
}
