package transactions

import (
	"fmt"
	"sort"
	"time"

	"github.com/oneconcern/vaultsync/pkg/manifest"
	"github.com/oneconcern/vaultsync/pkg/status"
)

// FileConflictError carries the divergent local and remote versions of a file
type FileConflictError struct {
	Local  manifest.Local
	Remote manifest.Remote
}

func (e *FileConflictError) Error() string {
	return fmt.Sprintf("file conflict on %s: local changes based on version %d, remote version %d by %s",
		e.Local.Header().ID, e.Local.BaseVersion(), e.Remote.Header().Version, e.Remote.Header().Author)
}

// Is matches status.ErrFileConflict
func (e *FileConflictError) Is(target error) bool {
	return target == status.ErrFileConflict
}

// MergeManifests merges a remote manifest into the local one.
//
// The local manifest is returned as is when the remote brings nothing new.
// With final set, the remote manifest is known to be our own upload.
// Files modified on both sides yield a *FileConflictError; folders are merged,
// the remote side winning name clashes.
func MergeManifests(author string, local manifest.Local, remote manifest.Remote, ts time.Time, final bool) (manifest.Local, error) {
	if remote == nil || remote.Header().Version <= local.BaseVersion() {
		return local, nil
	}

	if !local.Header().NeedSync || local.MatchRemote(remote) {
		return manifest.FromRemote(remote), nil
	}

	// local changes happened while our own version was being uploaded
	if final || remote.Header().Author == author {
		return manifest.Rebase(local, remote), nil
	}

	switch l := local.(type) {
	case *manifest.LocalFile:
		return nil, &FileConflictError{Local: local, Remote: remote}

	case manifest.Folderish:
		var base map[string]manifest.EntryID
		if b := l.BaseManifest(); b != nil {
			base = remoteChildren(b)
		}
		remoteKids := remoteChildren(remote)
		merged := MergeChildren(base, l.Children(), remoteKids, remote.Header().Author)

		fresh := manifest.FromRemote(remote).(manifest.Folderish)
		if manifest.SameChildren(merged, remoteKids) {
			return fresh, nil
		}
		return fresh.EvolveChildrenAndMarkUpdated(merged, ts), nil

	case *manifest.LocalUser:
		r := remote.(*manifest.RemoteUser)
		merged := mergeWorkspaces(l.Workspaces, r.Workspaces)
		fresh := manifest.FromRemote(remote).(*manifest.LocalUser)
		if len(merged) == len(r.Workspaces) {
			return fresh, nil
		}
		return fresh.EvolveWorkspacesAndMarkUpdated(merged, ts), nil

	default:
		panic(fmt.Sprintf("unexpected local manifest type %T", local))
	}
}

func remoteChildren(r manifest.Remote) map[string]manifest.EntryID {
	switch m := r.(type) {
	case *manifest.RemoteFolder:
		return m.Children
	case *manifest.RemoteWorkspace:
		return m.Children
	default:
		return nil
	}
}

// MergeChildren performs a three-way merge of children mappings.
//
// Remote renames and additions win. Local renames and additions are kept, under a
// conflict name when the remote side already uses their name. An entry removed on
// one side and left untouched on the other is removed.
func MergeChildren(base, local, remote map[string]manifest.EntryID, remoteAuthor string) map[string]manifest.EntryID {
	reverse := func(children map[string]manifest.EntryID) map[manifest.EntryID]string {
		r := make(map[manifest.EntryID]string, len(children))
		for name, id := range children {
			r[id] = name
		}
		return r
	}
	baseNames, localNames, remoteNames := reverse(base), reverse(local), reverse(remote)

	ids := make(map[manifest.EntryID]struct{}, len(localNames)+len(remoteNames))
	for id := range localNames {
		ids[id] = struct{}{}
	}
	for id := range remoteNames {
		ids[id] = struct{}{}
	}

	solvedRemote := make(map[string]manifest.EntryID)
	solvedLocal := make(map[string]manifest.EntryID)
	for id := range ids {
		baseName, inBase := baseNames[id]
		localName, inLocal := localNames[id]
		remoteName, inRemote := remoteNames[id]

		switch {
		case !inLocal:
			if !inBase || remoteName != baseName {
				solvedRemote[remoteName] = id
			}
		case !inRemote:
			if !inBase || localName != baseName {
				solvedLocal[localName] = id
			}
		case localName == remoteName:
			solvedRemote[remoteName] = id
		case inBase && baseName == remoteName:
			solvedLocal[localName] = id
		default:
			// renamed remotely, or renamed on both sides
			solvedRemote[remoteName] = id
		}
	}

	children := solvedRemote
	taken := make(map[string]manifest.EntryID, len(solvedRemote)+len(solvedLocal))
	for name, id := range solvedRemote {
		taken[name] = id
	}
	for name, id := range solvedLocal {
		taken[name] = id
	}
	for _, name := range sortedNames(solvedLocal) {
		id := solvedLocal[name]
		if _, clash := children[name]; !clash {
			children[name] = id
			continue
		}
		renamed := manifest.ConflictName(name, taken, remoteAuthor)
		taken[renamed] = id
		children[renamed] = id
	}
	return children
}

// mergeWorkspaces keeps every workspace known on either side, the remote entry
// winning when both sides know the same workspace.
func mergeWorkspaces(local, remote []manifest.WorkspaceEntry) []manifest.WorkspaceEntry {
	merged := append([]manifest.WorkspaceEntry{}, remote...)
	known := make(map[manifest.EntryID]struct{}, len(remote))
	for _, w := range remote {
		known[w.ID] = struct{}{}
	}
	for _, w := range local {
		if _, ok := known[w.ID]; !ok {
			merged = append(merged, w)
		}
	}
	return merged
}

func sortedNames(children map[string]manifest.EntryID) []string {
	names := make([]string, 0, len(children))
	for name := range children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
