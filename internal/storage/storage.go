// Package storage uploads relay inputs to object storage.
package storage

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
	"time"
)

// Object describes a stored file.
type Object struct {
	Key    string
	FileID string // provider file version id; empty for the filesystem store
	Size   int64
	SHA1   string
}

// ObjectKey builds "{userID}/{unixMillis}_{filename}" with the filename
// reduced to a safe base name.
func ObjectKey(userID string, at time.Time, filename string) string {
	return fmt.Sprintf("%s/%d_%s", userID, at.UnixMilli(), safeFilename(filename))
}

func safeFilename(name string) string {
	name = strings.ReplaceAll(strings.TrimSpace(name), "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." || name == "" {
		return "upload"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == ' ':
			b.WriteByte('_')
		case r < 0x20 || r == 0x7f:
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "upload"
	}
	return b.String()
}

func contentSHA1(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
