package types

import (
	"encoding/json"
	"io"
	"time"
)

// ResourceType tells files and folders apart in descriptors
type ResourceType string

const (
	ResourceFile      ResourceType = "FILE"
	ResourceDirectory ResourceType = "DIRECTORY"
)

// TraversalMode selects one-level or full-depth directory listings
type TraversalMode int

const (
	NonRecursive TraversalMode = iota
	Recursive
)

// String returns the string representation of the traversal mode
func (m TraversalMode) String() string {
	if m == Recursive {
		return "recursive"
	}
	return "non_recursive"
}

// Resource describes a file or folder relative to the tenant root. Path is the parent path
// (empty for root-level resources, otherwise ending in "/"); folder names end in "/".
type Resource struct {
	Path string       `json:"path"`
	Name string       `json:"name"`
	Size int64        `json:"size"`
	Type ResourceType `json:"type"`
}

// IsDir reports whether the resource is a folder
func (r Resource) IsDir() bool {
	return r.Type == ResourceDirectory
}

// FullPath returns the resource key the descriptor was built from
func (r Resource) FullPath() string {
	return r.Path + r.Name
}

// MarshalJSON omits the size of folders
func (r Resource) MarshalJSON() ([]byte, error) {
	type file struct {
		Path string       `json:"path"`
		Name string       `json:"name"`
		Size int64        `json:"size"`
		Type ResourceType `json:"type"`
	}
	type folder struct {
		Path string       `json:"path"`
		Name string       `json:"name"`
		Type ResourceType `json:"type"`
	}
	if r.IsDir() {
		return json.Marshal(folder{Path: r.Path, Name: r.Name, Type: r.Type})
	}
	return json.Marshal(file(r))
}

// ListingEntry is a (key, size) pair yielded by a prefix listing
type ListingEntry struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// ObjectInfo represents metadata about an object
type ObjectInfo struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size"`
	LastModified time.Time         `json:"last_modified"`
	ETag         string            `json:"etag"`
	ContentType  string            `json:"content_type"`
	Metadata     map[string]string `json:"metadata"`
}

// UploadFile is one file of an upload batch. Name is relative to the target directory and
// may contain "/" when a folder tree is uploaded.
type UploadFile struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}
