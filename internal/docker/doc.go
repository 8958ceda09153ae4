// Package docker runs bootstrap commands inside a disposable Docker
// container when corpusprep is invoked with --sandbox.
//
// This package handles:
//   - Docker client initialization with socket detection (Linux, macOS,
//     Windows)
//   - Sandbox lifecycle: image pull, create with the work directory
//     bind-mounted, exec, and forced removal
//   - Container labels, which are the only record of sandboxes and let
//     `corpusprep prune` find leftovers from interrupted runs
//
// The package uses github.com/docker/docker/client with API version
// negotiation enabled.
package docker
