// SPDX-License-Identifier: MPL-2.0

// Package container wraps the Docker and Podman command-line clients.
//
// The Engine interface covers what a troubleshooting environment needs over
// its lifetime: build an image, start it detached, exec commands inside it,
// copy files in, then stop and remove it. DockerEngine and PodmanEngine both
// embed BaseCLIEngine, which builds CLI arguments and runs the engine binary
// through an injectable ExecCommandFunc.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback when
// the preferred engine is unavailable, or AutoDetectEngine for
// preference-less detection (Docker is tried first).
package container
