package adapter

import (
	"context"
)

// FileRecord is the normalized shape of a OneDrive/SharePoint item returned to callers.
type FileRecord struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	URL          *string `json:"url"`
	Size         *int64  `json:"size,omitempty"`
	LastModified *string `json:"lastModified,omitempty"`
	Created      *string `json:"created,omitempty"`
	IsFolder     bool    `json:"isFolder"`
	Type         string  `json:"type"`
	ChildCount   *int    `json:"childCount,omitempty"`
}

const (
	TypeFolder = "folder"
	TypeFile   = "file"
)

// RootFolderID addresses the root of a drive.
const RootFolderID = "root"

// FileBrowser lists and inspects items of a remote drive.
// Every call is a single upstream request; results beyond the first page are not followed.
type FileBrowser interface {
	// ListChildren lists the direct children of a folder. "root" lists the drive root.
	ListChildren(ctx context.Context, accessToken, folderID string) ([]FileRecord, error)

	// SearchFolders searches the drive from its root and keeps folders only.
	SearchFolders(ctx context.Context, accessToken, query string) ([]FileRecord, error)

	// GetItem returns a single item by ID.
	GetItem(ctx context.Context, accessToken, itemID string) (*FileRecord, error)
}

// OnlyFolders filters records down to folders.
func OnlyFolders(records []FileRecord) []FileRecord {
	folders := make([]FileRecord, 0, len(records))
	for _, r := range records {
		if r.IsFolder {
			folders = append(folders, r)
		}
	}
	return folders
}
