// Package memory provides an in-process drive used in DEV_MODE and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jun/medidash/internal/adapter"
)

var _ adapter.FileBrowser = (*Browser)(nil)

type node struct {
	record   adapter.FileRecord
	parentID string
}

// Browser implements adapter.FileBrowser over an in-memory tree.
type Browser struct {
	mu    sync.RWMutex
	nodes map[string]*node
}

// NewBrowser creates an empty drive containing only its root.
func NewBrowser() *Browser {
	return &Browser{
		nodes: map[string]*node{
			adapter.RootFolderID: {record: adapter.FileRecord{
				ID:       adapter.RootFolderID,
				Name:     "root",
				IsFolder: true,
				Type:     adapter.TypeFolder,
			}},
		},
	}
}

// AddFolder creates a folder under parentID and returns its ID.
func (b *Browser) AddFolder(parentID, name string) (string, error) {
	return b.add(parentID, adapter.FileRecord{Name: name, IsFolder: true, Type: adapter.TypeFolder})
}

// AddFile creates a file under parentID and returns its ID.
func (b *Browser) AddFile(parentID, name string, size int64, url string) (string, error) {
	rec := adapter.FileRecord{Name: name, Type: adapter.TypeFile, Size: &size}
	if url != "" {
		rec.URL = &url
	}
	return b.add(parentID, rec)
}

func (b *Browser) add(parentID string, rec adapter.FileRecord) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if parentID == "" {
		parentID = adapter.RootFolderID
	}
	parent, ok := b.nodes[parentID]
	if !ok || !parent.record.IsFolder {
		return "", fmt.Errorf("parent %q: %w", parentID, adapter.ErrNotFound)
	}

	rec.ID = uuid.NewString()
	if rec.IsFolder {
		zero := 0
		rec.ChildCount = &zero
	}
	b.nodes[rec.ID] = &node{record: rec, parentID: parentID}

	count := 0
	if parent.record.ChildCount != nil {
		count = *parent.record.ChildCount
	}
	count++
	parent.record.ChildCount = &count
	return rec.ID, nil
}

// ListChildren lists the direct children of folderID, folders first then by name.
func (b *Browser) ListChildren(ctx context.Context, accessToken, folderID string) ([]adapter.FileRecord, error) {
	if accessToken == "" {
		return nil, adapter.ErrProviderAuth
	}
	if folderID == "" {
		folderID = adapter.RootFolderID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	parent, ok := b.nodes[folderID]
	if !ok {
		return nil, fmt.Errorf("folder %q: %w", folderID, adapter.ErrNotFound)
	}
	if !parent.record.IsFolder {
		return []adapter.FileRecord{}, nil
	}

	children := []adapter.FileRecord{}
	for id, n := range b.nodes {
		if id != adapter.RootFolderID && n.parentID == folderID {
			children = append(children, n.record)
		}
	}
	sortRecords(children)
	return children, nil
}

// SearchFolders returns folders anywhere in the drive whose name contains query (case-insensitive).
func (b *Browser) SearchFolders(ctx context.Context, accessToken, query string) ([]adapter.FileRecord, error) {
	if accessToken == "" {
		return nil, adapter.ErrProviderAuth
	}
	q := strings.ToLower(strings.TrimSpace(query))

	b.mu.RLock()
	defer b.mu.RUnlock()

	matches := []adapter.FileRecord{}
	for id, n := range b.nodes {
		if id == adapter.RootFolderID || !n.record.IsFolder {
			continue
		}
		if strings.Contains(strings.ToLower(n.record.Name), q) {
			matches = append(matches, n.record)
		}
	}
	sortRecords(matches)
	return matches, nil
}

// GetItem returns one item by ID.
func (b *Browser) GetItem(ctx context.Context, accessToken, itemID string) (*adapter.FileRecord, error) {
	if accessToken == "" {
		return nil, adapter.ErrProviderAuth
	}
	if itemID == "" {
		itemID = adapter.RootFolderID
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	n, ok := b.nodes[itemID]
	if !ok {
		return nil, fmt.Errorf("item %q: %w", itemID, adapter.ErrNotFound)
	}
	rec := n.record
	return &rec, nil
}

func sortRecords(records []adapter.FileRecord) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].IsFolder != records[j].IsFolder {
			return records[i].IsFolder
		}
		return records[i].Name < records[j].Name
	})
}
