// Package ident generates prefixed identifiers such as "ord_3f2a...".
package ident

import (
	"strings"

	"github.com/google/uuid"
)

func New(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// HasPrefix reports whether id was produced by New(prefix).
func HasPrefix(id, prefix string) bool {
	return strings.HasPrefix(id, prefix+"_") && len(id) == len(prefix)+33
}
