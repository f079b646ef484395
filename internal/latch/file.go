// Package latch models the workflow platform's remote-file abstraction: a
// handle pairs a local path with a latch:/// destination URI, and a Store
// stages file content between the two. The real platform performs staging
// against remote object storage; here the store root is a local directory.
package latch

import (
	"errors"
	"fmt"
	"strings"
)

// Scheme is the URI scheme of platform-managed files, e.g. latch:///trimmed_aln.fna.
const Scheme = "latch://"

// ErrObjectNotFound indicates the URI has no object behind it in the store.
var ErrObjectNotFound = errors.New("object not found in store")

// File is a platform-managed file handle.
type File struct {
	LocalPath string `json:"local_path" yaml:"local_path"`
	RemoteURI string `json:"remote_uri" yaml:"remote_uri"`
}

// NewFile builds a handle after validating the URI.
func NewFile(localPath, remoteURI string) (File, error) {
	if _, err := ParseURI(remoteURI); err != nil {
		return File{}, err
	}
	if localPath == "" {
		return File{}, fmt.Errorf("local path is empty")
	}
	return File{LocalPath: localPath, RemoteURI: remoteURI}, nil
}

// IsURI reports whether s names a platform object rather than a local path.
func IsURI(s string) bool {
	return strings.HasPrefix(s, Scheme)
}

// ParseURI extracts the store key from a latch:/// URI.
func ParseURI(uri string) (string, error) {
	if !IsURI(uri) {
		return "", fmt.Errorf("invalid URI %q: must start with %s", uri, Scheme)
	}
	key := strings.TrimPrefix(uri, Scheme)
	key = strings.TrimPrefix(key, "/")
	if key == "" {
		return "", fmt.Errorf("invalid URI %q: empty path", uri)
	}
	return key, nil
}

// URIForPath builds the destination URI for a path, mirroring the platform's
// latch:///<path> convention.
func URIForPath(p string) string {
	return Scheme + "/" + strings.TrimPrefix(p, "/")
}
