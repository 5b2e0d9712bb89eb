package queue

import (
	"fmt"
	"strings"
)

func qualifiedStructName(v any) string {
	s := fmt.Sprintf("%T", v)
	s = strings.TrimLeft(s, "*")

	return s
}

// CleanMessage makes a failure message storable by every engine: invalid UTF-8
// becomes U+FFFD and NUL bytes are dropped.
func CleanMessage(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
