package lhex

import (
	"crypto/sha1"
	"hash"
	"io"
	"os"
	"strings"

	digest "github.com/opencontainers/go-digest"
	"github.com/pkg/errors"
)

// Algorithm selects the hash used to check downloads.
type Algorithm string

const (
	// SHA1 is what the package listing publishes. go-digest does not know
	// about it, so it is handled here.
	SHA1   Algorithm = "sha1"
	SHA256           = Algorithm(digest.SHA256)
	SHA384           = Algorithm(digest.SHA384)
	SHA512           = Algorithm(digest.SHA512)
)

// Available reports whether the algorithm can be used.
func (a Algorithm) Available() bool {
	return a == SHA1 || digest.Algorithm(a).Available()
}

func (a Algorithm) hash() (hash.Hash, error) {
	if a == SHA1 {
		return sha1.New(), nil
	}

	if !digest.Algorithm(a).Available() {
		return nil, errors.Errorf("unsupported digest algorithm %q", string(a))
	}

	return digest.Algorithm(a).Hash(), nil
}

// Digest hashes the full content of the file at path.
func Digest(path string, alg Algorithm) (digest.Digest, error) {
	h, err := alg.hash()
	if err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", wrapKind(ErrIntegrity, err, "cannot read %v", path)
	}
	defer f.Close()

	if _, err := io.Copy(h, f); err != nil {
		return "", wrapKind(ErrIntegrity, err, "cannot read %v", path)
	}

	return digest.NewDigest(digest.Algorithm(alg), h), nil
}

// Verify returns true if the file at path hashes to expectedHex. A file that
// cannot be read is an error, not a mismatch.
func Verify(path, expectedHex string, alg Algorithm) (bool, error) {
	dg, err := Digest(path, alg)
	if err != nil {
		return false, err
	}

	return strings.EqualFold(dg.Encoded(), strings.TrimSpace(expectedHex)), nil
}
