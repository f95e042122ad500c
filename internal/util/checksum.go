package util

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
)

// SHA256File computes the SHA-256 checksum of a file and returns:
//   - the hex-encoded digest
//   - the file size in bytes
func SHA256File(path string) (sum string, size int64, err error) {
	return digestFile(path, sha256.New())
}

// MD5File is SHA256File for backends that report MD5 (Google Drive's md5Checksum).
func MD5File(path string) (sum string, size int64, err error) {
	return digestFile(path, md5.New())
}

func digestFile(path string, h hash.Hash) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
