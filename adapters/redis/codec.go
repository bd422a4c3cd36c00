package redis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/vmihailenco/msgpack/v5"
)

const payloadField = "data"

var ErrPointerType = errors.New("pointer type is not allowed")

// EncodeMessage 以 msgpack 序列化後 base64 編碼，放在 stream entry 的 data 欄位
func EncodeMessage[T any](data T) (map[string]any, error) {
	if t := reflect.TypeOf(data); t != nil && t.Kind() == reflect.Ptr {
		return nil, ErrPointerType
	}
	raw, err := msgpack.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}
	return map[string]any{payloadField: base64.StdEncoding.EncodeToString(raw)}, nil
}

// DecodeMessage 是 EncodeMessage 的反向操作
func DecodeMessage[T any](values map[string]any) (T, error) {
	var result T
	if t := reflect.TypeOf(result); t != nil && t.Kind() == reflect.Ptr {
		return result, ErrPointerType
	}
	encoded, ok := values[payloadField].(string)
	if !ok {
		return result, fmt.Errorf("field %q not found or not a string", payloadField)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return result, fmt.Errorf("base64 decode error: %w", err)
	}
	if err := msgpack.Unmarshal(raw, &result); err != nil {
		return result, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return result, nil
}
