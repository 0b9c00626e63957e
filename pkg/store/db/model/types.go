package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONMap is a custom type for JSON columns (map[string]interface{})
type JSONMap map[string]interface{}

// Scan implements sql.Scanner interface
func (j *JSONMap) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("failed to unmarshal JSONMap value: %v", value)
	}
	result := make(map[string]interface{})
	err := json.Unmarshal(bytes, &result)
	*j = JSONMap(result)
	return err
}

// Value implements driver.Valuer interface
func (j JSONMap) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// IntMapToJSONMap converts header keywords to JSONMap
func IntMapToJSONMap(m map[string]int) JSONMap {
	if m == nil {
		return nil
	}
	result := make(JSONMap, len(m))
	for k, v := range m {
		result[k] = v
	}
	return result
}

// JSONMapToIntMap converts JSONMap back to header keywords, dropping non-numeric values
func JSONMapToIntMap(m JSONMap) map[string]int {
	if m == nil {
		return nil
	}
	result := make(map[string]int, len(m))
	for k, v := range m {
		switch n := v.(type) {
		case float64:
			result[k] = int(n)
		case int:
			result[k] = n
		}
	}
	return result
}
