// Package operations provides the operation graph data model used to build
// genomic region queries against the remote query service.
//
// A query is a chain of derivation steps. Each step is first described by a
// Derivation (its kind plus constructing parameters) which yields a stable
// fingerprint. Once the remote service has assigned a query id to the step the
// Derivation is resolved into a Node.
//
// Core types:
//
// Derivation: the pre-resolution description of a step. Its Fingerprint is the
// cache key used by the fingerprint caches and never changes for identical
// constructing inputs.
//
// Node: a resolved, immutable step. The remote query id is fixed at
// construction. Nodes are shared by pointer and copied with Clone, which also
// restamps the epoch.
//
// RequestHandle: a submitted heavyweight job (counts, region exports,
// enrichment) awaiting completion. Only its cancelled flag changes after
// creation.
//
// ResultPayload: the terminal result of a RequestHandle.
//
// Epoch: the shared request counter used to discard stale results from
// superseded batches.
//
// ProgressTracker: per-batch progress accounting shared with the UI.
//
// Example usage:
//
//	d := operations.SelectAnnotation("CpG Islands", "hg19")
//	node := d.Resolve("q17", epoch.Current())
//	filtered := operations.Filter(node, "LENGTH", ">", "1000", "number")
//	fmt.Println(filtered.Fingerprint())
package operations
