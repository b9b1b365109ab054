package common

import (
	"net/url"

	"github.com/gorilla/schema"
	"github.com/pkg/errors"
)

// ParseStoreArgs decodes a store endpoint URL's query arguments into args
// (a pointer to a struct embedding RewriterConfig plus whatever
// backend-specific fields it needs), rejecting any key it doesn't
// recognize rather than silently ignoring a typo'd flag.
func ParseStoreArgs(ep *url.URL, args interface{}) error {
	var decoder = schema.NewDecoder()
	decoder.IgnoreUnknownKeys(false)

	var q, err = url.ParseQuery(ep.RawQuery)
	if err != nil {
		return errors.Wrap(err, "parsing store URL query")
	}
	if err = decoder.Decode(args, q); err != nil {
		return errors.Wrap(err, "decoding store URL arguments")
	}
	return nil
}
