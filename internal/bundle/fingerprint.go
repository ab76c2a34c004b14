package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// Fingerprint canonically hashes a file map plus build options for cache
// keying. File paths are hashed in sorted order with their contents byte for
// byte; options follow in a fixed field order with stable scalar formatting.
// The first 16 hex characters (64 bits) of the SHA-256 digest identify the
// build, so two different inputs whose digests share that prefix map to the
// same cache entry.
//
// The serialisation is part of the persisted-state contract: changing it
// orphans every fingerprint-keyed bundle.
func Fingerprint(files map[string]string, opts Options) string {
	hasher := sha256.New()

	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		hasher.Write([]byte(p))
		hasher.Write([]byte{0})
		hasher.Write([]byte(files[p]))
		hasher.Write([]byte{0})
	}

	writeField := func(name, value string) {
		hasher.Write([]byte(name))
		hasher.Write([]byte{0})
		hasher.Write([]byte(value))
		hasher.Write([]byte{0})
	}
	writeField("bundle", strconv.FormatBool(opts.Bundle))
	writeField("minify", strconv.FormatBool(opts.Minify))
	writeField("sourcemap", strconv.FormatBool(opts.Sourcemap))
	writeField("entryPoint", opts.EntryPoint)
	externals := append([]string(nil), opts.Externals...)
	sort.Strings(externals)
	for _, ext := range externals {
		writeField("external", ext)
	}

	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
