package rserver

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// The R server serializes scalars through jsonlite, which boxes most of them
// in one-element arrays: {"status": ["success"], "accuracy": [0.92]}.
// unboxJSON collapses exactly one such layer on every object member, at any
// object depth, before the typed decode. Arrays of any other length are kept.
func unboxJSON(data []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return json.Marshal(unboxValue(v))
}

func unboxValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, member := range t {
			if arr, ok := member.([]any); ok && len(arr) == 1 {
				member = arr[0]
			}
			t[k] = unboxValue(member)
		}
		return t
	case []any:
		for i := range t {
			t[i] = unboxValue(t[i])
		}
		return t
	default:
		return v
	}
}

// decodeResponse unboxes and decodes an R server body into out.
func decodeResponse(data []byte, out any) error {
	unboxed, err := unboxJSON(data)
	if err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	if err := json.Unmarshal(unboxed, out); err != nil {
		return fmt.Errorf("unexpected response shape: %w", err)
	}
	return nil
}

// stringList accepts a JSON string or an array of strings. Unboxing turns
// a single-class list into a bare string.
type stringList []string

func (s *stringList) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*s = nil
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = stringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// number accepts a JSON number or a numeric string ("0.92", "NA").
type number struct {
	Value float64
	Valid bool
}

func (n *number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*n = number{}
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*n = number{Value: f, Valid: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	// R's NA, NaN and Inf arrive as strings.
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = number{}
		return nil
	}
	*n = number{Value: f, Valid: true}
	return nil
}

type trainResponse struct {
	Status    string     `json:"status"`
	Accuracy  number     `json:"accuracy"`
	Classes   stringList `json:"classes"`
	Message   string     `json:"message"`
	ModelPath string     `json:"model_path"`
}

type predictResponse struct {
	Status           string            `json:"status"`
	Message          string            `json:"message"`
	CallType         *string           `json:"call_type"`
	Confidence       number            `json:"confidence"`
	AllProbabilities map[string]number `json:"all_probabilities"`
}

// failed reports whether a body carries an explicit non-success status.
func failed(status string) bool {
	return status != "" && !strings.EqualFold(status, "success")
}
