package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync/atomic"
	"time"
)

var (
	// Counter for sequential IDs
	idCounter uint64
)

// GenerateID generates a unique ID
func GenerateID() string {
	count := atomic.AddUint64(&idCounter, 1)
	timestamp := time.Now().UnixNano()
	return fmt.Sprintf("%x-%x", timestamp, count)
}

// GenerateSearchID generates a search ID with a timestamp prefix
func GenerateSearchID() string {
	timestamp := time.Now().Format("20060102-150405")
	b := make([]byte, 4)
	_, err := rand.Read(b)
	if err != nil {
		count := atomic.AddUint64(&idCounter, 1)
		return fmt.Sprintf("search-%s-%x", timestamp, count)
	}
	return fmt.Sprintf("search-%s-%s", timestamp, hex.EncodeToString(b))
}

// RandomSuffix returns n random bytes hex-encoded, falling back to GenerateID.
func RandomSuffix(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return GenerateID()
	}
	return hex.EncodeToString(b)
}
