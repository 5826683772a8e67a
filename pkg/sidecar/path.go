package sidecar

import (
	"fmt"

	"github.com/shelffs/shelf/pkg/catalog"
	"github.com/shelffs/shelf/pkg/shelferr"
)

// shardPrefixLen is the fixed length of each of the two shard-directory
// prefixes taken from a content uuid, giving 16^2 = 256 directories per
// level and 65536 leaf directories across both levels for shard balance
// (§4.H).
const shardPrefixLen = 2

// ContentPath computes the deterministic relative path for a generated
// sidecar, per §4.H: "<h0>/<h1>/<content_uuid>/<kind>/<variant>.<format>"
// rooted under "sidecars/content/". contentUUID must be at least
// 2*shardPrefixLen characters (true of any well-formed UUID).
func ContentPath(contentUUID string, kind catalog.SidecarKind, variant, format string) (string, error) {
	if len(contentUUID) < 2*shardPrefixLen {
		return "", shelferr.Invalidf("content uuid %q too short to shard", contentUUID)
	}
	h0 := contentUUID[:shardPrefixLen]
	h1 := contentUUID[shardPrefixLen : 2*shardPrefixLen]
	return fmt.Sprintf("sidecars/content/%s/%s/%s/%s/%s.%s", h0, h1, contentUUID, kind, variant, format), nil
}
