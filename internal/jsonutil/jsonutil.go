// Package jsonutil wraps json-iterator/go the way aistore's cmn/jsp wraps
// it for on-disk JSON: one configured instance, reused everywhere wire
// bodies are encoded or decoded.

package jsonutil

import (
	jsoniter "github.com/json-iterator/go"
)

var api = jsoniter.ConfigCompatibleWithStandardLibrary

func Marshal(v interface{}) ([]byte, error) {
	return api.Marshal(v)
}

func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return api.MarshalIndent(v, prefix, indent)
}

func Unmarshal(data []byte, v interface{}) error {
	return api.Unmarshal(data, v)
}
