// Copyright (c) 2025 suprsokr
// SPDX-License-Identifier: MIT

package utoc

// OverrideRoot is one registered loose-file directory. Registration
// order is priority order: the last registered root wins on conflict,
// matching the archive-priority convention of the host. The root list
// is append-only and never reordered.
type OverrideRoot struct {
	// Path is the absolute directory path of the root.
	Path string

	// Rank is the registration order, starting at 0. Higher rank is
	// higher priority.
	Rank int

	// Manifest is the root's optional pack manifest, nil when the
	// root carries none.
	Manifest *PackManifest
}

// scannedRoot pairs a root with the files discovered under it.
type scannedRoot struct {
	root  OverrideRoot
	files map[string]looseFile // canonical relative path -> file
}

// resolveWinners computes, for every virtual path present in any root,
// the winning loose file. Roots are given oldest to newest; the
// newest root providing a path wins, whether the path overrides a
// container entry or is added by the roots alone. The function is
// pure: same inputs, same winners, independent of registration timing.
func resolveWinners(roots []*scannedRoot) map[string]looseFile {
	winners := make(map[string]looseFile)
	// Newest root first; the first writer of a path keeps it.
	for i := len(roots) - 1; i >= 0; i-- {
		for rel, f := range roots[i].files {
			if _, taken := winners[rel]; !taken {
				winners[rel] = f
			}
		}
	}
	return winners
}
