// Package fs provides filesystem abstractions for testability and fault injection.
//
// The package defines two key interfaces:
//
//   - [File]: Represents an open file with read/write/sync capabilities
//   - [FileSystem]: Abstracts filesystem operations (open, remove, rename, etc.)
//
// # Implementations
//
//   - [LocalFS]: Production implementation using standard os package
//   - [FaultyFS]: Test utility for fault injection (simulate I/O errors)
//
// [WriteAtomic] is the single write path for shard and stitched outputs:
// temp file, fsync, rename.
//
// # Usage
//
//	err := fs.WriteAtomic(fs.Default, path, true, func(w io.Writer) error {
//	    _, err := w.Write(payload)
//	    return err
//	})
//
// Tests can inject [FaultyFS] to simulate failures:
//
//	ffs := fs.NewFaultyFS(nil)
//	ffs.AddRule("00003", fs.Fault{FailOnRename: true})
//
// This package does not take context.Context parameters. Local filesystem
// calls are short and not interruptible at the syscall level.
package fs
