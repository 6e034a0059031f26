// Package cubed implements the core of a Linux display compositor that
// drives DRM/KMS hardware directly: an atomic-commit scanout engine, a
// per-output repaint scheduler, a view/surface composition model, buffer
// lifecycle and back-pressure handling, a plane allocator, and hot-plug /
// modeset orchestration.
//
// The package tree mirrors the compositor's dependency order, leaves first:
//
//   - github.com/cube-wm/cubed/buffer: client-visible pixel resources
//   - github.com/cube-wm/cubed/region: rectangle-list damage/opaque tracking
//   - github.com/cube-wm/cubed/signal: generic listener plumbing
//   - github.com/cube-wm/cubed/kms: planes, modes, and the atomic scanout engine
//   - github.com/cube-wm/cubed/output: per-output repaint state machine
//   - github.com/cube-wm/cubed/renderer: GPU/software composition contract
//   - github.com/cube-wm/cubed/view: surfaces and their desktop placement
//   - github.com/cube-wm/cubed/compositor: commit paths, plane allocation, hot-plug
//   - github.com/cube-wm/cubed/clientagent: the IPC transport to clients
//
// This root package only holds the process-wide logger. Everything else
// lives in its own package so that collaborators named in the compositor's
// design (ClientAgent, Renderer, InputSource) can be swapped independently.
package cubed
