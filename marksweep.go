// ABOUTME: Main marksweep package providing version information and package documentation
// ABOUTME: This is the root package for the thread-local tracing garbage collector runtime

// Package marksweep provides a thread-local, non-moving, incrementally
// scheduled mark-sweep garbage collector runtime. Each attached thread owns
// a partition of typed sub-heaps and a region of persistent root handles;
// collections stop the world for marking via a safepoint barrier and sweep
// lazily per thread. See the gc, heap, persistent, stackscan and dump
// subpackages.
package marksweep

// Version is the semantic version of the marksweep runtime
const Version = "0.1.0-dev"
