package utils

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// DefaultTenantPrefix is the first component of every tenant root prefix.
const DefaultTenantPrefix = "tenant"

// DefaultMaxNameLength bounds the length of a single resource name.
const DefaultMaxNameLength = 255

// IsFolder reports whether a resource key denotes a folder.
func IsFolder(p string) bool {
	return strings.HasSuffix(p, "/")
}

// IsValidGeneralPath validates a folder path used as a listing or creation target.
// The empty string denotes the tenant root and is accepted.
//
// Example usage:
//
//	if !utils.IsValidGeneralPath(dir) {
//		return errors.InvalidPath("invalid path %q", dir)
//	}
func IsValidGeneralPath(p string) bool {
	if hasBadSeparators(p) {
		return false
	}
	return p == "" || IsFolder(p)
}

// IsValidForDeleteOrDownload validates a file or folder path. The root is rejected.
func IsValidForDeleteOrDownload(p string) bool {
	return p != "" && !hasBadSeparators(p)
}

// IsValidForMove validates either side of a move. Callers reject the empty string separately.
func IsValidForMove(p string) bool {
	return !hasBadSeparators(p)
}

func hasBadSeparators(p string) bool {
	return strings.HasPrefix(p, "/") || strings.Contains(p, "//")
}

// ParentOf returns the portion of p before its final segment, ending in "/",
// or "" for root-level resources.
func ParentOf(p string) string {
	trimmed := strings.TrimSuffix(p, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ""
	}
	return trimmed[:idx+1]
}

// NameOf returns the final segment of p, with a trailing "/" when isFolder is set.
func NameOf(p string, isFolder bool) string {
	trimmed := strings.TrimSuffix(p, "/")
	name := trimmed[strings.LastIndex(trimmed, "/")+1:]
	if isFolder {
		name += "/"
	}
	return name
}

// Ancestors returns every folder prefix strictly above p, shallowest first.
// Ancestors("a/b/c.txt") is ["a/", "a/b/"].
func Ancestors(p string) []string {
	var dirs []string
	for parent := ParentOf(p); parent != ""; parent = ParentOf(parent) {
		dirs = append(dirs, parent)
	}
	for i, j := 0, len(dirs)-1; i < j; i, j = i+1, j-1 {
		dirs[i], dirs[j] = dirs[j], dirs[i]
	}
	return dirs
}

// LockScope returns paths plus every folder above them, sorted and deduplicated. Two scopes
// intersect whenever one path equals or lies inside the other's folder, so a recursive
// folder operation and a write below that folder lock a common key.
func LockScope(paths ...string) []string {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
		for _, dir := range Ancestors(p) {
			set[dir] = struct{}{}
		}
	}
	scope := make([]string, 0, len(set))
	for p := range set {
		scope = append(scope, p)
	}
	sort.Strings(scope)
	return scope
}

// Relativize returns the path of full relative to the folder base.
// It fails when full is not inside base.
func Relativize(full, base string) (string, error) {
	if base != "" && !IsFolder(base) {
		return "", fmt.Errorf("base %q is not a folder", base)
	}
	if !strings.HasPrefix(full, base) {
		return "", fmt.Errorf("path %q is not inside %q", full, base)
	}
	return full[len(base):], nil
}

// ValidateResourceName checks the final segment of a created or moved resource.
func ValidateResourceName(p string, maxLen int) error {
	name := strings.TrimSuffix(NameOf(p, false), "/")
	if name == "" {
		return fmt.Errorf("resource name cannot be empty")
	}
	if len(name) > maxLen {
		return fmt.Errorf("resource name exceeds %d characters", maxLen)
	}
	return nil
}

// ValidateUploadName checks the name of an uploaded file relative to its target folder.
// Nested names ("docs/report.txt") are allowed; every segment must be a real name.
func ValidateUploadName(name string, maxLen int) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}
	if len(name) > maxLen {
		return fmt.Errorf("file name exceeds %d characters", maxLen)
	}
	if hasBadSeparators(name) {
		return fmt.Errorf("file name %q has an invalid separator", name)
	}
	if IsFolder(name) {
		return fmt.Errorf("file name %q must not end with /", name)
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == "." || segment == ".." {
			return fmt.Errorf("file name %q contains a relative segment", name)
		}
	}
	return nil
}

// Namespace maps tenant resource keys to storage keys.
type Namespace struct {
	tenantPrefix string
}

// NewNamespace creates a namespace rooting tenants at "<tenantPrefix>-<id>-files/".
func NewNamespace(tenantPrefix string) Namespace {
	if tenantPrefix == "" {
		tenantPrefix = DefaultTenantPrefix
	}
	return Namespace{tenantPrefix: tenantPrefix}
}

// RootPrefix returns the storage key of a tenant's root folder.
func (n Namespace) RootPrefix(userID int64) string {
	return n.tenantPrefix + "-" + strconv.FormatInt(userID, 10) + "-files/"
}

// ToStorageKey prepends the tenant root to a resource key.
func (n Namespace) ToStorageKey(userID int64, p string) string {
	return n.RootPrefix(userID) + p
}

// FromStorageKey strips the tenant root from a storage key. ok is false when the key
// lies outside the tenant's namespace.
func (n Namespace) FromStorageKey(userID int64, key string) (p string, ok bool) {
	root := n.RootPrefix(userID)
	if !strings.HasPrefix(key, root) {
		return "", false
	}
	return key[len(root):], true
}
