package graph

import (
	"github.com/jun/medidash/internal/adapter"
)

// driveItem is the subset of a Graph driveItem used by the broker.
type driveItem struct {
	ID                   string       `json:"id"`
	Name                 string       `json:"name"`
	Size                 *int64       `json:"size,omitempty"`
	WebURL               string       `json:"webUrl,omitempty"`
	DownloadURL          string       `json:"@microsoft.graph.downloadUrl,omitempty"`
	CreatedDateTime      *string      `json:"createdDateTime,omitempty"`
	LastModifiedDateTime *string      `json:"lastModifiedDateTime,omitempty"`
	Folder               *folderFacet `json:"folder,omitempty"`
	File                 *fileFacet   `json:"file,omitempty"`
}

type folderFacet struct {
	ChildCount int `json:"childCount"`
}

type fileFacet struct {
	MIMEType string `json:"mimeType"`
}

type itemCollection struct {
	Value    []driveItem `json:"value"`
	NextLink string      `json:"@odata.nextLink,omitempty"`
}

// normalize maps a Graph item onto a FileRecord.
// url prefers the pre-authenticated download URL, then the web view URL, else null.
func normalize(item driveItem) adapter.FileRecord {
	rec := adapter.FileRecord{
		ID:           item.ID,
		Name:         item.Name,
		Size:         item.Size,
		LastModified: item.LastModifiedDateTime,
		Created:      item.CreatedDateTime,
		IsFolder:     item.Folder != nil,
		Type:         adapter.TypeFile,
	}
	switch {
	case item.DownloadURL != "":
		u := item.DownloadURL
		rec.URL = &u
	case item.WebURL != "":
		u := item.WebURL
		rec.URL = &u
	}
	if item.Folder != nil {
		rec.Type = adapter.TypeFolder
		count := item.Folder.ChildCount
		rec.ChildCount = &count
	}
	return rec
}

func normalizeAll(items []driveItem) []adapter.FileRecord {
	records := make([]adapter.FileRecord, 0, len(items))
	for _, item := range items {
		records = append(records, normalize(item))
	}
	return records
}
