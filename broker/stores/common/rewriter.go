package common

import "strings"

// RewriterConfig remaps the remote path a shipped segment name lands under,
// by finding and replacing a substring of the segment name before it's
// appended to the store's base path. Rare, and only useful when migrating
// a mount's naming scheme without disturbing segments already shipped
// under the old one.
//
//	var cfg = RewriterConfig{
//	    Find:    "/mount-1/v1/",
//	    Replace: "/mount-1/legacy/",
//	}
//	// "seg/mount-1/v1/part-000"  => "s3://bucket/seg/mount-1/legacy/part-000" // matched
//	// "seg/mount-1/v2/part-000"  => "s3://bucket/seg/mount-1/v2/part-000"     // not matched
type RewriterConfig struct {
	// Find is the substring to replace in the unmodified segment name.
	Find string
	// Replace is what Find is replaced with in the constructed remote path.
	Replace string
}

// RewritePath appends segment name n to store base path s, replacing the
// first occurrence of cfg.Find with cfg.Replace along the way. If Find is
// empty or absent from n, n is appended unmodified.
func (cfg RewriterConfig) RewritePath(s, n string) string {
	if cfg.Find == "" {
		return s + n
	}
	return s + strings.Replace(n, cfg.Find, cfg.Replace, 1)
}
