//go:build jsonv2

package snapshot

import (
	"encoding/json/jsontext"
	jsonv2 "encoding/json/v2"
)

func jsonMarshalIndent(value any, prefix, indent string) ([]byte, error) {
	opts := jsonv2.JoinOptions(
		jsonv2.Deterministic(true),
		jsontext.WithIndent(indent),
		jsontext.WithIndentPrefix(prefix),
	)
	return jsonv2.Marshal(value, opts)
}

func jsonUnmarshal(data []byte, value any) error {
	return jsonv2.Unmarshal(data, value)
}
