package demo

// testing.go contains exported functions that are intended to be used during
// testing but not in other ways.

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GenerateTestDir creates a fresh directory for a test under the OS temp
// dir. The name contains the test name, the unix time and a random suffix so
// that parallel and repeated runs never collide.
func GenerateTestDir(testName string) string {
	var n uint32
	if err := binary.Read(rand.Reader, binary.LittleEndian, &n); err != nil {
		panic("secure random number generation is not working")
	}
	dirName := fmt.Sprintf("%s-%d-%06d", filepath.Base(testName), time.Now().Unix(), n%1000000)
	fullPath := filepath.Join(os.TempDir(), dirName)
	if err := os.MkdirAll(fullPath, 0755); err != nil {
		panic(err)
	}
	return fullPath
}
