package json

import (
	stdjson "encoding/json"

	jsoniter "github.com/json-iterator/go"
)

var (
	// JSON is the jsoniter instance used for every wire envelope in the gateway
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	// Marshal is a shorthand for JSON.Marshal
	Marshal = JSON.Marshal

	// Unmarshal is a shorthand for JSON.Unmarshal
	Unmarshal = JSON.Unmarshal
)

// RawMessage is a raw encoded JSON value, passed through the gateway untouched.
type RawMessage = stdjson.RawMessage
