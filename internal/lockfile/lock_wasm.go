//go:build js && wasm

package lockfile

import "os"

// wasm's js/wasm target is single-process, so the advisory lock is
// trivially always available.
func flockExclusiveNonBlocking(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }
