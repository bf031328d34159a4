package nzb

import "errors"

// ErrMalformedDocument indicates the input is not an NZB (missing or wrong
// root element, or unparseable XML).
var ErrMalformedDocument = errors.New("malformed nzb document")
