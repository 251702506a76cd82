package provider

import "errors"

// errStreamTruncated marks a stream that closed without Done or an error.
var errStreamTruncated = errors.New("stream ended without terminal event")
