package manifest

import (
	"fmt"
	"time"

	"github.com/oneconcern/vaultsync/pkg/chunk"
	"github.com/oneconcern/vaultsync/pkg/crypto"
	"github.com/segmentio/ksuid"
)

// EntryID identifies a logical entry, shared by its local and remote manifests
type EntryID string

// NewEntryID generates a new unique entry ID
func NewEntryID() EntryID {
	return EntryID(ksuid.New().String())
}

func (e EntryID) String() string {
	return string(e)
}

// RemoteBase holds the attributes common to all remote manifests
type RemoteBase struct {
	ID        EntryID   `json:"id"`
	Parent    EntryID   `json:"parent,omitempty"`
	Version   uint64    `json:"version"`
	Author    string    `json:"author"`
	Timestamp time.Time `json:"timestamp"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
}

// Remote is an immutable, versioned manifest as stored in the remote store.
//
// Implementations: *RemoteFile, *RemoteFolder, *RemoteWorkspace, *RemoteUser.
type Remote interface {
	Header() RemoteBase
	Validate() error
	isRemote()
}

var (
	_ Remote = &RemoteFile{}
	_ Remote = &RemoteFolder{}
	_ Remote = &RemoteWorkspace{}
	_ Remote = &RemoteUser{}
)

// RemoteFile is the remote manifest of a file: only blocks, one per slot
type RemoteFile struct {
	RemoteBase
	Size      uint64         `json:"size"`
	Blocksize uint64         `json:"blocksize"`
	Blocks    []chunk.Access `json:"blocks"`
}

// RemoteFolder is the remote manifest of a folder
type RemoteFolder struct {
	RemoteBase
	Children map[string]EntryID `json:"children"`
}

// RemoteWorkspace is the remote manifest of a workspace root
type RemoteWorkspace struct {
	RemoteBase
	Children map[string]EntryID `json:"children"`
}

// WorkspaceEntry references a workspace from the user root
type WorkspaceEntry struct {
	ID                 EntryID          `json:"id"`
	Name               string           `json:"name"`
	Key                crypto.SecretKey `json:"key"`
	EncryptionRevision uint32           `json:"encryption_revision"`
	Role               string           `json:"role"`
}

// RemoteUser is the remote manifest of the user root
type RemoteUser struct {
	RemoteBase
	Workspaces []WorkspaceEntry `json:"workspaces"`
}

func (m *RemoteFile) isRemote()      {}
func (m *RemoteFolder) isRemote()    {}
func (m *RemoteWorkspace) isRemote() {}
func (m *RemoteUser) isRemote()      {}

// Header returns the common attributes
func (m *RemoteFile) Header() RemoteBase { return m.RemoteBase }

// Header returns the common attributes
func (m *RemoteFolder) Header() RemoteBase { return m.RemoteBase }

// Header returns the common attributes
func (m *RemoteWorkspace) Header() RemoteBase { return m.RemoteBase }

// Header returns the common attributes
func (m *RemoteUser) Header() RemoteBase { return m.RemoteBase }

func (b RemoteBase) validate() error {
	if b.ID == "" {
		return fmt.Errorf("manifest has no id")
	}
	if b.Version == 0 {
		return fmt.Errorf("manifest %s has version 0", b.ID)
	}
	if b.Author == "" {
		return fmt.Errorf("manifest %s has no author", b.ID)
	}
	return nil
}

// Validate checks that every block is aligned on its slot
func (m *RemoteFile) Validate() error {
	if err := m.RemoteBase.validate(); err != nil {
		return err
	}
	if m.Blocksize == 0 {
		return fmt.Errorf("file %s has a zero blocksize", m.ID)
	}
	expected := (m.Size + m.Blocksize - 1) / m.Blocksize
	if uint64(len(m.Blocks)) != expected {
		return fmt.Errorf("file %s of size %d has %d blocks, expected %d", m.ID, m.Size, len(m.Blocks), expected)
	}
	for i, a := range m.Blocks {
		start := uint64(i) * m.Blocksize
		stop := start + m.Blocksize
		if stop > m.Size {
			stop = m.Size
		}
		if a.Offset != start || a.Offset+a.Size != stop {
			return fmt.Errorf("file %s: block %d spans [%d, %d), expected [%d, %d)", m.ID, i, a.Offset, a.Offset+a.Size, start, stop)
		}
		if a.ID == "" || a.Digest.IsZero() {
			return fmt.Errorf("file %s: block %d has an incomplete access", m.ID, i)
		}
	}
	return nil
}

// Validate checks children names
func (m *RemoteFolder) Validate() error {
	if err := m.RemoteBase.validate(); err != nil {
		return err
	}
	return validateChildren(m.ID, m.Children)
}

// Validate checks children names
func (m *RemoteWorkspace) Validate() error {
	if err := m.RemoteBase.validate(); err != nil {
		return err
	}
	return validateChildren(m.ID, m.Children)
}

// Validate checks that workspace entries are unique
func (m *RemoteUser) Validate() error {
	if err := m.RemoteBase.validate(); err != nil {
		return err
	}
	seen := make(map[EntryID]struct{}, len(m.Workspaces))
	for _, w := range m.Workspaces {
		if _, ok := seen[w.ID]; ok || w.ID == "" {
			return fmt.Errorf("user manifest %s: invalid or duplicate workspace %q", m.ID, w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

func validateChildren(id EntryID, children map[string]EntryID) error {
	for name, child := range children {
		if err := ValidateName(name); err != nil {
			return fmt.Errorf("folder %s: %v", id, err)
		}
		if child == "" {
			return fmt.Errorf("folder %s: child %q has no id", id, name)
		}
	}
	return nil
}

// WithVersion returns a copy of a remote manifest with another version
func WithVersion(r Remote, version uint64) Remote {
	switch m := r.(type) {
	case *RemoteFile:
		c := *m
		c.Version = version
		return &c
	case *RemoteFolder:
		c := *m
		c.Version = version
		return &c
	case *RemoteWorkspace:
		c := *m
		c.Version = version
		return &c
	case *RemoteUser:
		c := *m
		c.Version = version
		return &c
	default:
		panic(fmt.Sprintf("unexpected remote manifest type %T", r))
	}
}
