/*
Package workspace exposes the entries of a synchronized workspace.

Entries are created, read and written locally, then synchronized with the
remote store by Sync, either on demand or from a Monitor reacting to local
writes and remote changes.

	ws, err := workspace.New(ctx, storage, loader, workspace.Logger(l))
	id, err := ws.CreateFile(ctx, ws.Root(), "hello.txt")
	_, err = ws.WriteBytes(ctx, id, []byte("hello"), 0)
	err = ws.Sync(ctx, ws.Root(), true)
*/
package workspace
