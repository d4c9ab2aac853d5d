// Package naming builds the names that tie remote images and local files to one VM's backup
// lineage.
package naming

import (
	"fmt"
	"strings"
	"time"
)

// DefaultTool is the first word of every backup name.
const DefaultTool = "lndbackup"

// ImageExtension is appended to the sanitized image name to form the local filename.
const ImageExtension = ".img"

// DateLayout is the date part of a backup name.
const DateLayout = "2006-01-02"

// Prefix returns the backup prefix shared by all artifacts of a VM.
func Prefix(tool string, vmID int) string {
	return fmt.Sprintf("%s %d", tool, vmID)
}

// ImageName returns the remote image name for a backup taken at the given time.
func ImageName(tool string, vmID int, at time.Time, hostname string) string {
	return fmt.Sprintf("%s %s %s", Prefix(tool, vmID), at.Format(DateLayout), hostname)
}

// Sanitize replaces characters that are not valid in a filename on common platforms.
// Sanitizing an already sanitized name returns it unchanged.
func Sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		if invalidRune(r) {
			return '_'
		}
		return r
	}, name)
}

func invalidRune(r rune) bool {
	if r < 0x20 || r == 0x7f {
		return true
	}
	switch r {
	case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
		return true
	}
	return false
}

// FileName returns the local filename for a remote image name.
func FileName(imageName string) string {
	return Sanitize(imageName) + ImageExtension
}

// MatchesPrefix reports whether name belongs to the lineage identified by prefix.
// The prefix must be followed by a space, so "lndbackup 1" never matches "lndbackup 12 ...".
func MatchesPrefix(name, prefix string) bool {
	if prefix == "" {
		return false
	}
	return name == prefix || strings.HasPrefix(name, prefix+" ")
}
