package manifest

// SameContent compares two remote manifests, ignoring version, author and timestamp
func SameContent(a, b Remote) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	ha, hb := a.Header(), b.Header()
	if ha.ID != hb.ID || ha.Parent != hb.Parent || !ha.Created.Equal(hb.Created) || !ha.Updated.Equal(hb.Updated) {
		return false
	}

	switch ma := a.(type) {
	case *RemoteFile:
		mb, ok := b.(*RemoteFile)
		if !ok || ma.Size != mb.Size || ma.Blocksize != mb.Blocksize || len(ma.Blocks) != len(mb.Blocks) {
			return false
		}
		for i := range ma.Blocks {
			if ma.Blocks[i] != mb.Blocks[i] {
				return false
			}
		}
		return true
	case *RemoteFolder:
		mb, ok := b.(*RemoteFolder)
		return ok && SameChildren(ma.Children, mb.Children)
	case *RemoteWorkspace:
		mb, ok := b.(*RemoteWorkspace)
		return ok && SameChildren(ma.Children, mb.Children)
	case *RemoteUser:
		mb, ok := b.(*RemoteUser)
		if !ok || len(ma.Workspaces) != len(mb.Workspaces) {
			return false
		}
		for i := range ma.Workspaces {
			if ma.Workspaces[i] != mb.Workspaces[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// SameChildren compares two children mappings
func SameChildren(a, b map[string]EntryID) bool {
	if len(a) != len(b) {
		return false
	}
	for name, id := range a {
		if other, ok := b[name]; !ok || other != id {
			return false
		}
	}
	return true
}
