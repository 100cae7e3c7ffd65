package manifest

import (
	"fmt"
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
)

// LocalBase holds the attributes common to all local manifests
type LocalBase struct {
	ID       EntryID   `json:"id"`
	Parent   EntryID   `json:"parent,omitempty"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`
	NeedSync bool      `json:"need_sync"`
}

func (b LocalBase) toRemote(author string, ts time.Time, version uint64) RemoteBase {
	return RemoteBase{
		ID:        b.ID,
		Parent:    b.Parent,
		Version:   version,
		Author:    author,
		Timestamp: ts,
		Created:   b.Created,
		Updated:   b.Updated,
	}
}

func (b LocalBase) minimal(author string, ts time.Time) RemoteBase {
	r := b.toRemote(author, ts, 1)
	r.Updated = b.Created
	return r
}

func (b LocalBase) markUpdated(ts time.Time) LocalBase {
	b.Updated = ts
	b.NeedSync = true
	return b
}

func fromRemoteBase(r RemoteBase) LocalBase {
	return LocalBase{
		ID:      r.ID,
		Parent:  r.Parent,
		Created: r.Created,
		Updated: r.Updated,
	}
}

// Local is the mutable, possibly not yet synchronized, state of an entry.
//
// Implementations: *LocalFile, *LocalFolder, *LocalWorkspace, *LocalUser.
type Local interface {
	Header() LocalBase
	// BaseVersion is the version of the last acknowledged remote manifest, 0 for a placeholder
	BaseVersion() uint64
	IsPlaceholder() bool
	// BaseManifest is the last acknowledged remote manifest, nil for a placeholder
	BaseManifest() Remote
	// ToRemote builds the next remote version from the local state
	ToRemote(author string, ts time.Time) Remote
	// MinimalRemote builds the version 1 manifest registering this entry without content
	MinimalRemote(author string, ts time.Time) Remote
	// MatchRemote tells if the remote manifest holds exactly the local state
	MatchRemote(Remote) bool
	Clone() Local
	isLocal()
}

// Folderish is implemented by local manifests holding named children
type Folderish interface {
	Local
	Children() map[string]EntryID
	EvolveChildrenAndMarkUpdated(children map[string]EntryID, ts time.Time) Folderish
}

var (
	_ Local     = &LocalFile{}
	_ Folderish = &LocalFolder{}
	_ Folderish = &LocalWorkspace{}
	_ Local     = &LocalUser{}
)

// LocalFile is the local manifest of a file.
//
// Blocks holds one slot per blocksize window. Chunks in a slot are sorted by
// start, do not overlap and cover the window up to the file size.
type LocalFile struct {
	LocalBase
	Base      *RemoteFile     `json:"base,omitempty"`
	Size      uint64          `json:"size"`
	Blocksize uint64          `json:"blocksize"`
	Blocks    [][]chunk.Chunk `json:"blocks"`
}

// LocalFolder is the local manifest of a folder
type LocalFolder struct {
	LocalBase
	Base    *RemoteFolder      `json:"base,omitempty"`
	Entries map[string]EntryID `json:"children"`
}

// LocalWorkspace is the local manifest of a workspace root
type LocalWorkspace struct {
	LocalBase
	Base    *RemoteWorkspace   `json:"base,omitempty"`
	Entries map[string]EntryID `json:"children"`
}

// LocalUser is the local manifest of the user root
type LocalUser struct {
	LocalBase
	Base       *RemoteUser      `json:"base,omitempty"`
	Workspaces []WorkspaceEntry `json:"workspaces"`
}

func (m *LocalFile) isLocal()      {}
func (m *LocalFolder) isLocal()    {}
func (m *LocalWorkspace) isLocal() {}
func (m *LocalUser) isLocal()      {}

// NewFilePlaceholder creates an empty file, not yet registered remotely
func NewFilePlaceholder(parent EntryID, blocksize uint64, ts time.Time) *LocalFile {
	if blocksize == 0 {
		panic("file blocksize must be positive")
	}
	return &LocalFile{
		LocalBase: newPlaceholderBase(NewEntryID(), parent, ts),
		Blocksize: blocksize,
		Blocks:    [][]chunk.Chunk{},
	}
}

// NewFolderPlaceholder creates an empty folder, not yet registered remotely
func NewFolderPlaceholder(parent EntryID, ts time.Time) *LocalFolder {
	return &LocalFolder{
		LocalBase: newPlaceholderBase(NewEntryID(), parent, ts),
		Entries:   map[string]EntryID{},
	}
}

// NewWorkspacePlaceholder creates an empty workspace root, not yet registered remotely
func NewWorkspacePlaceholder(id EntryID, ts time.Time) *LocalWorkspace {
	return &LocalWorkspace{
		LocalBase: newPlaceholderBase(id, "", ts),
		Entries:   map[string]EntryID{},
	}
}

// NewUserPlaceholder creates an empty user root, not yet registered remotely
func NewUserPlaceholder(id EntryID, ts time.Time) *LocalUser {
	return &LocalUser{
		LocalBase:  newPlaceholderBase(id, "", ts),
		Workspaces: []WorkspaceEntry{},
	}
}

func newPlaceholderBase(id, parent EntryID, ts time.Time) LocalBase {
	return LocalBase{
		ID:       id,
		Parent:   parent,
		Created:  ts,
		Updated:  ts,
		NeedSync: true,
	}
}

// FromRemote builds the local manifest mirroring a remote manifest
func FromRemote(r Remote) Local {
	switch m := r.(type) {
	case *RemoteFile:
		blocks := make([][]chunk.Chunk, 0, len(m.Blocks))
		for _, a := range m.Blocks {
			blocks = append(blocks, []chunk.Chunk{chunk.FromAccess(a)})
		}
		return &LocalFile{
			LocalBase: fromRemoteBase(m.RemoteBase),
			Base:      m,
			Size:      m.Size,
			Blocksize: m.Blocksize,
			Blocks:    blocks,
		}
	case *RemoteFolder:
		return &LocalFolder{
			LocalBase: fromRemoteBase(m.RemoteBase),
			Base:      m,
			Entries:   copyChildren(m.Children),
		}
	case *RemoteWorkspace:
		return &LocalWorkspace{
			LocalBase: fromRemoteBase(m.RemoteBase),
			Base:      m,
			Entries:   copyChildren(m.Children),
		}
	case *RemoteUser:
		return &LocalUser{
			LocalBase:  fromRemoteBase(m.RemoteBase),
			Base:       m,
			Workspaces: append([]WorkspaceEntry{}, m.Workspaces...),
		}
	default:
		panic(fmt.Sprintf("unexpected remote manifest type %T", r))
	}
}

// Rebase acknowledges a remote version produced by this device while keeping
// the local changes made since, which still need to be synchronized.
func Rebase(l Local, r Remote) Local {
	switch m := l.(type) {
	case *LocalFile:
		c := m.clone()
		c.Base = r.(*RemoteFile)
		return c
	case *LocalFolder:
		c := m.clone()
		c.Base = r.(*RemoteFolder)
		return c
	case *LocalWorkspace:
		c := m.clone()
		c.Base = r.(*RemoteWorkspace)
		return c
	case *LocalUser:
		c := m.clone()
		c.Base = r.(*RemoteUser)
		return c
	default:
		panic(fmt.Sprintf("unexpected local manifest type %T", l))
	}
}

// Header returns the common attributes
func (m *LocalFile) Header() LocalBase { return m.LocalBase }

// Header returns the common attributes
func (m *LocalFolder) Header() LocalBase { return m.LocalBase }

// Header returns the common attributes
func (m *LocalWorkspace) Header() LocalBase { return m.LocalBase }

// Header returns the common attributes
func (m *LocalUser) Header() LocalBase { return m.LocalBase }

// BaseVersion of the last acknowledged remote manifest
func (m *LocalFile) BaseVersion() uint64 {
	if m.Base == nil {
		return 0
	}
	return m.Base.Version
}

// BaseVersion of the last acknowledged remote manifest
func (m *LocalFolder) BaseVersion() uint64 {
	if m.Base == nil {
		return 0
	}
	return m.Base.Version
}

// BaseVersion of the last acknowledged remote manifest
func (m *LocalWorkspace) BaseVersion() uint64 {
	if m.Base == nil {
		return 0
	}
	return m.Base.Version
}

// BaseVersion of the last acknowledged remote manifest
func (m *LocalUser) BaseVersion() uint64 {
	if m.Base == nil {
		return 0
	}
	return m.Base.Version
}

// IsPlaceholder tells if this file was never registered remotely
func (m *LocalFile) IsPlaceholder() bool { return m.Base == nil }

// IsPlaceholder tells if this folder was never registered remotely
func (m *LocalFolder) IsPlaceholder() bool { return m.Base == nil }

// IsPlaceholder tells if this workspace was never registered remotely
func (m *LocalWorkspace) IsPlaceholder() bool { return m.Base == nil }

// IsPlaceholder tells if this user root was never registered remotely
func (m *LocalUser) IsPlaceholder() bool { return m.Base == nil }

// BaseManifest returns the base, or nil
func (m *LocalFile) BaseManifest() Remote {
	if m.Base == nil {
		return nil
	}
	return m.Base
}

// BaseManifest returns the base, or nil
func (m *LocalFolder) BaseManifest() Remote {
	if m.Base == nil {
		return nil
	}
	return m.Base
}

// BaseManifest returns the base, or nil
func (m *LocalWorkspace) BaseManifest() Remote {
	if m.Base == nil {
		return nil
	}
	return m.Base
}

// BaseManifest returns the base, or nil
func (m *LocalUser) BaseManifest() Remote {
	if m.Base == nil {
		return nil
	}
	return m.Base
}

// IsReshaped tells if every slot holds exactly one block
func (m *LocalFile) IsReshaped() bool {
	for _, chunks := range m.Blocks {
		if len(chunks) != 1 || !chunks[0].IsBlock() {
			return false
		}
	}
	return true
}

// ToRemote builds the next remote version. The file must be reshaped.
func (m *LocalFile) ToRemote(author string, ts time.Time) Remote {
	return m.toRemoteFile(author, ts)
}

func (m *LocalFile) toRemoteFile(author string, ts time.Time) *RemoteFile {
	if !m.IsReshaped() {
		panic(fmt.Sprintf("file %s must be reshaped before building a remote manifest", m.ID))
	}
	blocks := make([]chunk.Access, 0, len(m.Blocks))
	for _, chunks := range m.Blocks {
		blocks = append(blocks, *chunks[0].Access)
	}
	return &RemoteFile{
		RemoteBase: m.LocalBase.toRemote(author, ts, m.BaseVersion()+1),
		Size:       m.Size,
		Blocksize:  m.Blocksize,
		Blocks:     blocks,
	}
}

// ToRemote builds the next remote version
func (m *LocalFolder) ToRemote(author string, ts time.Time) Remote {
	return &RemoteFolder{
		RemoteBase: m.LocalBase.toRemote(author, ts, m.BaseVersion()+1),
		Children:   copyChildren(m.Entries),
	}
}

// ToRemote builds the next remote version
func (m *LocalWorkspace) ToRemote(author string, ts time.Time) Remote {
	return &RemoteWorkspace{
		RemoteBase: m.LocalBase.toRemote(author, ts, m.BaseVersion()+1),
		Children:   copyChildren(m.Entries),
	}
}

// ToRemote builds the next remote version
func (m *LocalUser) ToRemote(author string, ts time.Time) Remote {
	return &RemoteUser{
		RemoteBase: m.LocalBase.toRemote(author, ts, m.BaseVersion()+1),
		Workspaces: append([]WorkspaceEntry{}, m.Workspaces...),
	}
}

// MinimalRemote builds an empty version 1 of this file
func (m *LocalFile) MinimalRemote(author string, ts time.Time) Remote {
	return &RemoteFile{
		RemoteBase: m.LocalBase.minimal(author, ts),
		Blocksize:  m.Blocksize,
		Blocks:     []chunk.Access{},
	}
}

// MinimalRemote builds an empty version 1 of this folder
func (m *LocalFolder) MinimalRemote(author string, ts time.Time) Remote {
	return &RemoteFolder{
		RemoteBase: m.LocalBase.minimal(author, ts),
		Children:   map[string]EntryID{},
	}
}

// MinimalRemote builds an empty version 1 of this workspace
func (m *LocalWorkspace) MinimalRemote(author string, ts time.Time) Remote {
	return &RemoteWorkspace{
		RemoteBase: m.LocalBase.minimal(author, ts),
		Children:   map[string]EntryID{},
	}
}

// MinimalRemote builds an empty version 1 of this user root
func (m *LocalUser) MinimalRemote(author string, ts time.Time) Remote {
	return &RemoteUser{
		RemoteBase: m.LocalBase.minimal(author, ts),
		Workspaces: []WorkspaceEntry{},
	}
}

// MatchRemote tells if the remote manifest holds exactly the local state
func (m *LocalFile) MatchRemote(r Remote) bool {
	if _, ok := r.(*RemoteFile); !ok || !m.IsReshaped() {
		return false
	}
	return SameContent(m.ToRemote(r.Header().Author, r.Header().Timestamp), r)
}

// MatchRemote tells if the remote manifest holds exactly the local state
func (m *LocalFolder) MatchRemote(r Remote) bool {
	return SameContent(m.ToRemote(r.Header().Author, r.Header().Timestamp), r)
}

// MatchRemote tells if the remote manifest holds exactly the local state
func (m *LocalWorkspace) MatchRemote(r Remote) bool {
	return SameContent(m.ToRemote(r.Header().Author, r.Header().Timestamp), r)
}

// MatchRemote tells if the remote manifest holds exactly the local state
func (m *LocalUser) MatchRemote(r Remote) bool {
	return SameContent(m.ToRemote(r.Header().Author, r.Header().Timestamp), r)
}

// Clone returns a copy which may be evolved independently
func (m *LocalFile) Clone() Local { return m.clone() }

// Clone returns a copy which may be evolved independently
func (m *LocalFolder) Clone() Local { return m.clone() }

// Clone returns a copy which may be evolved independently
func (m *LocalWorkspace) Clone() Local { return m.clone() }

// Clone returns a copy which may be evolved independently
func (m *LocalUser) Clone() Local { return m.clone() }

// slots are never mutated in place, so sharing them between copies is safe
func (m *LocalFile) clone() *LocalFile {
	c := *m
	c.Blocks = append(make([][]chunk.Chunk, 0, len(m.Blocks)), m.Blocks...)
	return &c
}

func (m *LocalFolder) clone() *LocalFolder {
	c := *m
	c.Entries = copyChildren(m.Entries)
	return &c
}

func (m *LocalWorkspace) clone() *LocalWorkspace {
	c := *m
	c.Entries = copyChildren(m.Entries)
	return &c
}

func (m *LocalUser) clone() *LocalUser {
	c := *m
	c.Workspaces = append([]WorkspaceEntry{}, m.Workspaces...)
	return &c
}

// EvolveAndMarkUpdated returns a copy with new content, flagged for sync
func (m *LocalFile) EvolveAndMarkUpdated(size uint64, blocks [][]chunk.Chunk, ts time.Time) *LocalFile {
	c := m.clone()
	c.Size = size
	c.Blocks = blocks
	c.LocalBase = c.LocalBase.markUpdated(ts)
	return c
}

// EvolveBlocks returns a copy with new slots, leaving the sync state untouched
func (m *LocalFile) EvolveBlocks(blocks [][]chunk.Chunk) *LocalFile {
	c := m.clone()
	c.Blocks = blocks
	return c
}

// Children returns the named children
func (m *LocalFolder) Children() map[string]EntryID { return m.Entries }

// Children returns the named children
func (m *LocalWorkspace) Children() map[string]EntryID { return m.Entries }

// EvolveChildrenAndMarkUpdated returns a copy with new children, flagged for sync
func (m *LocalFolder) EvolveChildrenAndMarkUpdated(children map[string]EntryID, ts time.Time) Folderish {
	c := m.clone()
	c.Entries = copyChildren(children)
	c.LocalBase = c.LocalBase.markUpdated(ts)
	return c
}

// EvolveChildrenAndMarkUpdated returns a copy with new children, flagged for sync
func (m *LocalWorkspace) EvolveChildrenAndMarkUpdated(children map[string]EntryID, ts time.Time) Folderish {
	c := m.clone()
	c.Entries = copyChildren(children)
	c.LocalBase = c.LocalBase.markUpdated(ts)
	return c
}

// EvolveWorkspacesAndMarkUpdated returns a copy with new workspace entries, flagged for sync
func (m *LocalUser) EvolveWorkspacesAndMarkUpdated(workspaces []WorkspaceEntry, ts time.Time) *LocalUser {
	c := m.clone()
	c.Workspaces = append([]WorkspaceEntry{}, workspaces...)
	c.LocalBase = c.LocalBase.markUpdated(ts)
	return c
}

// ChildName returns the name under which a child is registered
func ChildName(f Folderish, id EntryID) (string, bool) {
	for name, child := range f.Children() {
		if child == id {
			return name, true
		}
	}
	return "", false
}

func copyChildren(children map[string]EntryID) map[string]EntryID {
	c := make(map[string]EntryID, len(children))
	for k, v := range children {
		c[k] = v
	}
	return c
}
