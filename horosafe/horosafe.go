// Package horosafe holds the input guards used where user-supplied values
// reach the file system or the network: export file names, webhook URLs
// and bounded reads of remote responses.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a file name would leave its directory.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// SafeName reduces name to its last path element and rejects names that
// cannot be a plain file: empty, ".", ".." or hidden.
func SafeName(name string) (string, error) {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	switch {
	case base == "." || base == "/" || base == "":
		return "", fmt.Errorf("horosafe: invalid file name %q", name)
	case base == ".." || strings.HasPrefix(base, "."):
		return "", ErrPathTraversal
	}
	return base, nil
}

// CheckHTTPURL checks that rawURL is an absolute http or https URL with a
// host. It does no DNS lookup.
func CheckHTTPURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL has no host")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails if r holds more.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	lr := io.LimitReader(r, maxBytes+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return data[:maxBytes], fmt.Errorf("horosafe: response exceeds %d bytes", maxBytes)
	}
	return data, nil
}
