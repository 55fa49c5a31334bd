package unci

import (
	"fmt"

	"github.com/jdeng/gounci/unci/bmff"
)

// The codec reports failures with the same error taxonomy the box
// layer uses, so callers can classify any error from this module with
// bmff.IsKind regardless of which layer produced it.

func invalidf(format string, args ...interface{}) error {
	return &bmff.Error{Kind: bmff.KindInvalidInput, Msg: fmt.Sprintf(format, args...)}
}

func unsupportedf(format string, args ...interface{}) error {
	return &bmff.Error{Kind: bmff.KindUnsupported, Msg: fmt.Sprintf(format, args...)}
}

func usagef(format string, args ...interface{}) error {
	return &bmff.Error{Kind: bmff.KindUsage, Sub: bmff.SubBadParameterValue, Msg: fmt.Sprintf(format, args...)}
}

func limitf(format string, args ...interface{}) error {
	return &bmff.Error{Kind: bmff.KindLimit, Sub: bmff.SubLimitExceeded, Msg: fmt.Sprintf(format, args...)}
}
