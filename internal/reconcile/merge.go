package reconcile

import "github.com/sergi/go-diff/diffmatchpatch"

// Merge applies the changes that turned base into remote onto local. The
// second result is false when any of those changes could not be applied, in
// which case local is returned unchanged.
func Merge(base, local, remote string) (string, bool) {
	if base == remote {
		return local, true
	}
	if base == local {
		return remote, true
	}

	dmp := diffmatchpatch.New()
	patches := dmp.PatchMake(base, remote)
	merged, applied := dmp.PatchApply(patches, local)
	for _, ok := range applied {
		if !ok {
			return local, false
		}
	}
	return merged, true
}
