package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/agentworkforce/chatshelf/internal/shelfapi"
)

// shelfIndex is the in-memory view of the shelf the FUSE tree serves.
// refresh swaps it wholesale; readers take the lock per operation.
type shelfIndex struct {
	mu       sync.RWMutex
	projects []projectEntry
}

type projectEntry struct {
	dirName string
	files   []fileEntry
}

type fileEntry struct {
	name    string
	content []byte
}

func (idx *shelfIndex) refresh(ctx context.Context, client shelfapi.RemoteClient, namespace string) error {
	if namespace == "" {
		health, err := client.Health(ctx)
		if err != nil {
			return err
		}
		namespace = health.Namespace
	}
	list, err := client.ListProjects(ctx, namespace)
	if err != nil {
		return err
	}

	projects := make([]projectEntry, 0, len(list.Projects))
	usedDirs := map[string]struct{}{}
	for _, project := range list.Projects {
		dirName := uniqueName(sanitizeName(project.Name), project.ID, usedDirs)
		entry := projectEntry{dirName: dirName}
		usedFiles := map[string]struct{}{}
		for _, chat := range project.Chats {
			title := chat.Title
			if strings.TrimSpace(title) == "" {
				title = chat.ID
			}
			fileName := uniqueName(sanitizeName(title)+".md", chat.ID, usedFiles)
			entry.files = append(entry.files, fileEntry{
				name:    fileName,
				content: renderChatDoc(project.Name, chat),
			})
		}
		sort.Slice(entry.files, func(i, j int) bool { return entry.files[i].name < entry.files[j].name })
		projects = append(projects, entry)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].dirName < projects[j].dirName })

	idx.mu.Lock()
	idx.projects = projects
	idx.mu.Unlock()
	return nil
}

func renderChatDoc(projectName string, chat shelfapi.FiledChat) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", chat.Title)
	fmt.Fprintf(&b, "- project: %s\n", projectName)
	fmt.Fprintf(&b, "- chat: %s\n", chat.ID)
	fmt.Fprintf(&b, "- path: /app/%s\n", chat.ID)
	if chat.AddedAt > 0 {
		fmt.Fprintf(&b, "- filed: %s\n", time.UnixMilli(chat.AddedAt).UTC().Format(time.RFC3339))
	}
	return []byte(b.String())
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\x00':
			return '_'
		}
		return r
	}, name)
	if len(name) > 200 {
		name = name[:200]
	}
	return name
}

func uniqueName(name, id string, used map[string]struct{}) string {
	if _, taken := used[name]; taken {
		suffix := id
		if len(suffix) > 8 {
			suffix = suffix[:8]
		}
		name = name + "." + suffix
	}
	used[name] = struct{}{}
	return name
}

// shelfRoot lists one directory per project.
type shelfRoot struct {
	fs.Inode
	idx *shelfIndex
}

var (
	_ fs.NodeReaddirer = (*shelfRoot)(nil)
	_ fs.NodeLookuper  = (*shelfRoot)(nil)
)

func (r *shelfRoot) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	r.idx.mu.RLock()
	defer r.idx.mu.RUnlock()
	entries := make([]fuse.DirEntry, 0, len(r.idx.projects))
	for _, project := range r.idx.projects {
		entries = append(entries, fuse.DirEntry{Name: project.dirName, Mode: fuse.S_IFDIR})
	}
	return fs.NewListDirStream(entries), 0
}

func (r *shelfRoot) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	r.idx.mu.RLock()
	defer r.idx.mu.RUnlock()
	for _, project := range r.idx.projects {
		if project.dirName != name {
			continue
		}
		child := r.NewInode(ctx, &projectDir{idx: r.idx, dirName: name}, fs.StableAttr{Mode: fuse.S_IFDIR})
		return child, 0
	}
	return nil, syscall.ENOENT
}

// projectDir lists one markdown file per filed chat.
type projectDir struct {
	fs.Inode
	idx     *shelfIndex
	dirName string
}

var (
	_ fs.NodeReaddirer = (*projectDir)(nil)
	_ fs.NodeLookuper  = (*projectDir)(nil)
)

func (d *projectDir) lookupProject() (projectEntry, bool) {
	for _, project := range d.idx.projects {
		if project.dirName == d.dirName {
			return project, true
		}
	}
	return projectEntry{}, false
}

func (d *projectDir) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	d.idx.mu.RLock()
	defer d.idx.mu.RUnlock()
	project, ok := d.lookupProject()
	if !ok {
		return nil, syscall.ENOENT
	}
	entries := make([]fuse.DirEntry, 0, len(project.files))
	for _, file := range project.files {
		entries = append(entries, fuse.DirEntry{Name: file.name, Mode: fuse.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

func (d *projectDir) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	d.idx.mu.RLock()
	defer d.idx.mu.RUnlock()
	project, ok := d.lookupProject()
	if !ok {
		return nil, syscall.ENOENT
	}
	for _, file := range project.files {
		if file.name != name {
			continue
		}
		child := d.NewInode(ctx, &fs.MemRegularFile{
			Data: file.content,
			Attr: fuse.Attr{Mode: 0o444},
		}, fs.StableAttr{Mode: fuse.S_IFREG})
		return child, 0
	}
	return nil, syscall.ENOENT
}
