// Package dumping implements the incremental, idempotent dump engine that
// mirrors a provenance graph (process nodes, typed links, groups) onto a
// filesystem tree across repeated invocations.
//
// The engine reconciles two consistency models: the relational graph store
// with mutable timestamps and memberships, and a hierarchical filesystem with
// no native notion of one object referenced twice. Shared sub-results become
// symlinks or duplicate copies, renamed groups become directory moves, and
// deleted entities have their output subtrees removed.
//
// # Critical Patterns
//
// CP-1: Single Tracker Flush
//   - The tracker log is loaded at engine construction and saved once,
//     atomically, at the very end of a successful run
//   - A run that fails earlier leaves the previous durable state intact, so
//     the next run re-derives an accurate delta instead of skipping work
//
// CP-2: Safeguard Marker
//   - Every engine-managed directory contains a sentinel file
//   - Deleting or overwriting a directory without the sentinel is refused;
//     this is the sole guard against touching user data the engine did not
//     create
//
// CP-3: Record Before Generate
//   - A primary dump registers its tracker record before generating content,
//     so a crash mid-generation leaves a discoverable record pointing at a
//     real, marked directory that the next run repairs via the update path
//
// CP-4: Deletions Before Dumps
//   - Within one pass all deletions complete before any new dumping begins,
//     so a deleted entity's old path never collides with a new target
//
// Execution is single-threaded, synchronous and depth-first; the output tree
// and tracker log are exclusively owned by one invocation at a time.
package dumping
