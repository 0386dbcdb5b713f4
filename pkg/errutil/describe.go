// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EventDock Contributors

package errutil

import (
	"github.com/samber/oops"
)

// Describe renders err for an operator: the public message when one was
// set, otherwise the error text, followed by the hint if there is one.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return err.Error()
	}
	msg := oopsErr.Public()
	if msg == "" {
		msg = oopsErr.Error()
	}
	if hint := oopsErr.Hint(); hint != "" {
		msg += " (" + hint + ")"
	}
	return msg
}

// Code returns the oops code carried by err, or "" if it has none.
func Code(err error) string {
	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}
	code, _ := oopsErr.Code().(string)
	return code
}
