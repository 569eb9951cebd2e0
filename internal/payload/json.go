// Package payload сериализует параметры и результаты инструментов в ту форму,
// которую видят сканеры и аудит.
package payload

import (
	"bytes"
	"encoding/json"
)

// Marshal кодирует значение в JSON без HTML-экранирования: "<script>" должен
// дойти до сканера как есть, а не как "\u003cscript\u003e".
// Готовый JSON ([]byte, json.RawMessage) пропускается без изменений.
func Marshal(v any) ([]byte, error) {
	switch raw := v.(type) {
	case json.RawMessage:
		return raw, nil
	case []byte:
		if json.Valid(raw) {
			return raw, nil
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// String: то же самое, но строкой; при ошибке кодирования возвращает ""
func String(v any) string {
	b, err := Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
