package testutil

import (
	"sync"

	"github.com/go-git/go-git/v5/plumbing/transport/client"
	"github.com/go-git/go-git/v5/plumbing/transport/server"
)

var installOnce sync.Once

// ServeLocalRepositories routes file transport (plain paths and file:// URLs)
// through go-git's in-process server, so clones and fetches in tests do not
// need git binaries on PATH. Served paths must be repository directories,
// see SourceRepo.URL.
func ServeLocalRepositories() {
	installOnce.Do(func() {
		client.InstallProtocol("file", server.DefaultServer)
	})
}
