package transactions

import (
	"testing"
	"time"

	"github.com/oneconcern/vaultsync/pkg/errors"
	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2000, 1, 2, 3, 4, 5, 0, time.UTC)

const (
	alice = "alice@laptop"
	bob   = "bob@desktop"
)

func children(kv ...interface{}) map[string]manifest.EntryID {
	m := make(map[string]manifest.EntryID, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		m[kv[i].(string)] = kv[i+1].(manifest.EntryID)
	}
	return m
}

// syncedFolder returns a folder acknowledged at version 1 with some children
func syncedFolder(kids map[string]manifest.EntryID) (*manifest.LocalFolder, *manifest.RemoteFolder) {
	placeholder := manifest.NewFolderPlaceholder(manifest.NewEntryID(), t0)
	v1 := placeholder.MinimalRemote(alice, t0).(*manifest.RemoteFolder)
	v1.Children = kids
	return manifest.FromRemote(v1).(*manifest.LocalFolder), v1
}

func TestMergeKeepsLocal(t *testing.T) {
	local, v1 := syncedFolder(children())

	merged, err := MergeManifests(alice, local, nil, t0, false)
	require.NoError(t, err)
	assert.True(t, merged == manifest.Local(local))

	merged, err = MergeManifests(alice, local, v1, t0, false)
	require.NoError(t, err)
	assert.True(t, merged == manifest.Local(local), "an already acknowledged version brings nothing new")
}

func TestMergeTakesRemote(t *testing.T) {
	local, v1 := syncedFolder(children())
	id := manifest.NewEntryID()
	v2 := manifest.Rebase(local.EvolveChildrenAndMarkUpdated(children("b", id), t0), v1).ToRemote(bob, t0)

	merged, err := MergeManifests(alice, local, v2, t0, false)
	require.NoError(t, err)
	assert.False(t, merged.Header().NeedSync)
	assert.Equal(t, uint64(2), merged.BaseVersion())
	assert.Equal(t, children("b", id), merged.(*manifest.LocalFolder).Children())
}

func TestMergeRebasesOwnUpload(t *testing.T) {
	file := manifest.NewFilePlaceholder(manifest.NewEntryID(), 8, t0)
	v1 := file.MinimalRemote(alice, t0)
	written := file.EvolveAndMarkUpdated(0, nil, t0.Add(time.Second))

	for _, final := range []bool{true, false} {
		merged, err := MergeManifests(alice, written, v1, t0, final)
		require.NoError(t, err)
		assert.True(t, merged.Header().NeedSync, "local changes are kept")
		assert.Equal(t, uint64(1), merged.BaseVersion())
	}
}

func TestMergeFileConflict(t *testing.T) {
	file := manifest.NewFilePlaceholder(manifest.NewEntryID(), 8, t0)
	v1 := file.MinimalRemote(alice, t0)
	synced := manifest.FromRemote(v1).(*manifest.LocalFile)

	theirs := synced.EvolveAndMarkUpdated(0, nil, t0.Add(time.Second))
	v2 := theirs.ToRemote(bob, t0.Add(time.Second))

	ours := synced.EvolveAndMarkUpdated(0, nil, t0.Add(2*time.Second))
	_, err := MergeManifests(alice, ours, v2, t0, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrFileConflict))

	var conflict *FileConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, uint64(2), conflict.Remote.Header().Version)
	assert.Equal(t, uint64(1), conflict.Local.BaseVersion())
	assert.Contains(t, err.Error(), bob)
}

func TestMergeFolders(t *testing.T) {
	ours, theirs := manifest.NewEntryID(), manifest.NewEntryID()
	local, v1 := syncedFolder(children())

	// both sides add a different child under the same name
	remoteSide := manifest.Rebase(local.EvolveChildrenAndMarkUpdated(children("notes", theirs), t0), v1).ToRemote(bob, t0)
	localSide := local.EvolveChildrenAndMarkUpdated(children("notes", ours), t0)

	merged, err := MergeManifests(alice, localSide, remoteSide, t0.Add(time.Second), false)
	require.NoError(t, err)
	assert.True(t, merged.Header().NeedSync)
	assert.Equal(t, uint64(2), merged.BaseVersion())
	assert.Equal(t, children(
		"notes", theirs,
		"notes (conflicting with bob@desktop)", ours,
	), merged.(*manifest.LocalFolder).Children())
}

func TestMergeFoldersNothingToAdd(t *testing.T) {
	kept, gone := manifest.NewEntryID(), manifest.NewEntryID()
	local, v1 := syncedFolder(children("kept", kept, "gone", gone))

	// removed locally while renamed remotely: the rename wins
	remoteSide := manifest.Rebase(local.EvolveChildrenAndMarkUpdated(children("kept", kept, "renamed", gone), t0), v1).ToRemote(bob, t0)
	localSide := local.EvolveChildrenAndMarkUpdated(children("kept", kept), t0)

	merged, err := MergeManifests(alice, localSide, remoteSide, t0, false)
	require.NoError(t, err)
	assert.False(t, merged.Header().NeedSync)
	assert.Equal(t, children("kept", kept, "renamed", gone), merged.(*manifest.LocalFolder).Children())
}

func TestMergeChildren(t *testing.T) {
	a, b, c, d := manifest.NewEntryID(), manifest.NewEntryID(), manifest.NewEntryID(), manifest.NewEntryID()

	for _, toPin := range []struct {
		name                string
		base, local, remote map[string]manifest.EntryID
		expected            map[string]manifest.EntryID
	}{
		{
			name:     "untouched",
			base:     children("a", a),
			local:    children("a", a),
			remote:   children("a", a),
			expected: children("a", a),
		},
		{
			name:     "removed remotely",
			base:     children("a", a, "b", b),
			local:    children("a", a, "b", b),
			remote:   children("a", a),
			expected: children("a", a),
		},
		{
			name:     "removed locally",
			base:     children("a", a, "b", b),
			local:    children("a", a),
			remote:   children("a", a, "b", b),
			expected: children("a", a),
		},
		{
			name:     "renamed locally",
			base:     children("a", a),
			local:    children("z", a),
			remote:   children("a", a),
			expected: children("z", a),
		},
		{
			name:     "renamed on both sides",
			base:     children("a", a),
			local:    children("y", a),
			remote:   children("z", a),
			expected: children("z", a),
		},
		{
			name:     "added on both sides",
			base:     nil,
			local:    children("c", c),
			remote:   children("d", d),
			expected: children("c", c, "d", d),
		},
		{
			name:   "name clash",
			base:   nil,
			local:  children("c.txt", c, "c (conflicting with bob@desktop).txt", a),
			remote: children("c.txt", d),
			expected: children(
				"c.txt", d,
				"c (conflicting with bob@desktop).txt", a,
				"c (conflicting with bob@desktop - 2).txt", c,
			),
		},
	} {
		tc := toPin
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, MergeChildren(tc.base, tc.local, tc.remote, bob))
		})
	}
}

func TestMergeUserWorkspaces(t *testing.T) {
	user := manifest.NewUserPlaceholder(manifest.NewEntryID(), t0)
	v1 := user.MinimalRemote(alice, t0)
	synced := manifest.FromRemote(v1).(*manifest.LocalUser)

	theirs := manifest.WorkspaceEntry{ID: manifest.NewEntryID(), Name: "shared"}
	ours := manifest.WorkspaceEntry{ID: manifest.NewEntryID(), Name: "mine"}
	v2 := manifest.Rebase(synced.EvolveWorkspacesAndMarkUpdated([]manifest.WorkspaceEntry{theirs}, t0), v1).ToRemote(bob, t0)
	local := synced.EvolveWorkspacesAndMarkUpdated([]manifest.WorkspaceEntry{ours}, t0)

	merged, err := MergeManifests(alice, local, v2, t0, false)
	require.NoError(t, err)
	assert.True(t, merged.Header().NeedSync)
	assert.Equal(t, []manifest.WorkspaceEntry{theirs, ours}, merged.(*manifest.LocalUser).Workspaces)
}
