package indexer

import "os"

// Rules is the indexer-rules hook contract (§4.C): before enqueuing a
// child, the indexer consults ShouldIndex, which evaluates glob allow/reject
// rules and "reject if children contain X" directory rules external to this
// package. The rules engine itself is out of scope; only this contract is.
type Rules interface {
	ShouldIndex(path string, info os.FileInfo) bool
}

// AllowAll is the default Rules implementation: every path is indexed.
type AllowAll struct{}

// ShouldIndex always returns true.
func (AllowAll) ShouldIndex(string, os.FileInfo) bool { return true }
