// Package blobscan provides the binary-inspection primitives used to
// fingerprint and search files extracted from firmware images: MD5
// hashing, printable-string extraction, and substring search.
//
// Grounded on original_source/src/util.py's io_md5, strings, and
// findStringInBinFile.
package blobscan

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// blockSize matches spec.md §4.2's 64 KiB streaming block.
const blockSize = 64 * 1024

// MD5 streams target and returns its hex-encoded MD5 digest.
func MD5(target string) (string, error) {
	f, err := os.Open(target)
	if err != nil {
		return "", errors.Wrapf(err, "opening %s for hashing", target)
	}
	defer f.Close()

	h := md5.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, bufio.NewReader(f), buf); err != nil {
		return "", errors.Wrapf(err, "hashing %s", target)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// isPrintable mirrors Python's string.printable: ASCII 0x20-0x7e plus the
// common whitespace control characters.
func isPrintable(b byte) bool {
	if b >= 0x20 && b <= 0x7e {
		return true
	}
	switch b {
	case '\t', '\n', '\v', '\f', '\r':
		return true
	}
	return false
}

// Strings returns every maximal run of printable bytes in filePath of
// length at least minLen. The prototype's strings() is a lazy generator
// re-opened per call; here it is eagerly materialized per call, which is
// equivalent for every caller in this codebase (none holds a Strings()
// result open across a mutation of filePath).
func Strings(filePath string, minLen int) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s for string extraction", filePath)
	}

	var results []string
	var run []byte
	flush := func() {
		if len(run) >= minLen {
			results = append(results, string(run))
		}
		run = nil
	}
	for _, b := range data {
		if isPrintable(b) {
			run = append(run, b)
		} else {
			flush()
		}
	}
	flush()
	return results, nil
}

// ContainsString reports whether any printable string of at least length
// 4 extracted from filePath contains needle.
func ContainsString(filePath, needle string) (bool, error) {
	found, err := Strings(filePath, 4)
	if err != nil {
		return false, err
	}
	for _, s := range found {
		if strings.Contains(s, needle) {
			return true, nil
		}
	}
	return false, nil
}
