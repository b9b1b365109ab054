package mainboilerplate

// Version and BuildDate are overridden at build time via -ldflags, e.g.
// -X github.com/gazette-labs/storekit/mainboilerplate.Version=1.2.3
var (
	Version   = "devel"
	BuildDate = "unknown"
)
