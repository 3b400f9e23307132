package bernard

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

// Digester computes the content fingerprint of a file. The digest must be
// printable ASCII without spaces (FileDigester returns lower-case hex); an
// error is reported for that file only.
type Digester interface {
	Digest(path string) (string, error)
}

// DigesterFunc adapts a plain function to the Digester interface
type DigesterFunc func(path string) (string, error)

// Digest calls f(path)
func (f DigesterFunc) Digest(path string) (string, error) {
	return f(path)
}

// HashAlgorithm represents a hash algorithm configuration
type HashAlgorithm struct {
	Name    string
	TypeID  uint16
	Size    int
	NewFunc func() hash.Hash
}

// GetHashAlgorithm returns the hash algorithm configuration for the given name
func GetHashAlgorithm(name string) (*HashAlgorithm, error) {
	switch strings.ToLower(name) {
	case "sha1":
		return &HashAlgorithm{
			Name:    "sha1",
			TypeID:  HashTypeSHA1,
			Size:    HashSizeSHA1,
			NewFunc: sha1.New,
		}, nil
	case "sha256":
		return &HashAlgorithm{
			Name:    "sha256",
			TypeID:  HashTypeSHA256,
			Size:    HashSizeSHA256,
			NewFunc: sha256.New,
		}, nil
	case "sha512":
		return &HashAlgorithm{
			Name:    "sha512",
			TypeID:  HashTypeSHA512,
			Size:    HashSizeSHA512,
			NewFunc: sha512.New,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm: %s", name)
	}
}

// FileDigester hashes file contents with a configurable algorithm and buffer.
// A closed Shutdown channel aborts a digest between buffer reads.
type FileDigester struct {
	Algorithm  *HashAlgorithm
	BufferSize int
	Shutdown   <-chan struct{}
}

// NewFileDigester creates a digester for the named algorithm. A bufferSize
// of zero selects 2MB.
func NewFileDigester(algorithm string, bufferSize int, shutdown <-chan struct{}) (*FileDigester, error) {
	alg, err := GetHashAlgorithm(algorithm)
	if err != nil {
		return nil, err
	}
	if bufferSize <= 0 {
		bufferSize = 2 * 1024 * 1024
	}
	return &FileDigester{Algorithm: alg, BufferSize: bufferSize, Shutdown: shutdown}, nil
}

// Digest returns the hex digest of the file at path
func (d *FileDigester) Digest(path string) (string, error) {
	sum, err := HashFileInterruptible(path, d.Algorithm, d.BufferSize, d.Shutdown)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// HashFileInterruptible calculates the hash of a file using a configurable buffer size
// and checks for shutdown signals between buffer reads
func HashFileInterruptible(filePath string, algorithm *HashAlgorithm, bufferSize int, shutdownChan <-chan struct{}) ([]byte, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	hasher := algorithm.NewFunc()
	buffer := make([]byte, bufferSize)

	for {
		select {
		case <-shutdownChan:
			return nil, fmt.Errorf("hash of %s: %w", filePath, ErrInterrupted)
		default:
		}

		n, err := file.Read(buffer)
		if n > 0 {
			hasher.Write(buffer[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read from file %s: %w", filePath, err)
		}
	}

	return hasher.Sum(nil), nil
}

// validDigest reports whether s can be stored unquoted in a map record:
// non-empty printable ASCII without spaces
func validDigest(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] <= ' ' || s[i] > '~' {
			return false
		}
	}
	return true
}
