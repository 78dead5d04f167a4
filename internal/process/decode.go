package process

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// newLineDecoder returns a converter from the worker's output encoding
// (a WHATWG label such as "gbk" or "windows-1251") to UTF-8. UTF-8 output is
// passed through untouched.
func newLineDecoder(label string) (func(string) string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return passthrough, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return passthrough, fmt.Errorf("unknown worker encoding %q: %w", label, err)
	}
	if enc == encoding.Nop {
		return passthrough, nil
	}
	if name, _ := htmlindex.Name(enc); name == "utf-8" {
		return passthrough, nil
	}
	return func(line string) string {
		decoded, err := enc.NewDecoder().String(line)
		if err != nil {
			return line
		}
		return decoded
	}, nil
}

func passthrough(line string) string {
	return line
}
