package lock

// ReleaseScriptHash exposes the owner-checked release script's SHA so tests
// can match the EVALSHA the client issues.
func ReleaseScriptHash() string { return releaseScript.Hash() }
