package flatten

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func decode(t *testing.T, raw string) interface{} {
	t.Helper()
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(raw), &v))
	return v
}

func TestFieldsNested(t *testing.T) {
	v := decode(t, `{
		"optimizer": {"name": "adam", "lr": 0.01, "schedule": {"warmup": 100}},
		"seed": 42,
		"finished": "2023-06-01T10:00:00Z",
		"debug": false
	}`)
	fields := Fields(v, false)

	byKey := map[string]Field{}
	for _, f := range fields {
		byKey[f.Key] = f
	}
	require.Len(t, fields, 6)

	require.Equal(t, "adam", byKey["optimizer.name"].Value)
	require.Equal(t, TypeText, byKey["optimizer.name"].Type)

	lr := byKey["optimizer.lr"]
	require.Equal(t, TypeNumber, lr.Type)
	require.NotNil(t, lr.Number)
	require.InDelta(t, 0.01, *lr.Number, 1e-12)

	require.Equal(t, TypeNumber, byKey["optimizer.schedule.warmup"].Type)
	require.Equal(t, "100", byKey["optimizer.schedule.warmup"].Value)
	require.Equal(t, TypeDate, byKey["finished"].Type)
	require.Equal(t, TypeText, byKey["debug"].Type)
	require.Equal(t, "false", byKey["debug"].Value)
}

func TestFieldsRoundTrip(t *testing.T) {
	// For array-free input, splitting keys back apart recovers the structure.
	raw := `{"a": {"b": {"c": "deep"}, "d": 1}, "e": "top"}`
	fields := Fields(decode(t, raw), false)

	rebuilt := map[string]interface{}{}
	for _, f := range fields {
		node := rebuilt
		parts := strings.Split(f.Key, ".")
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]interface{})
			if !ok {
				child = map[string]interface{}{}
				node[part] = child
			}
			node = child
		}
		if f.Number != nil {
			node[parts[len(parts)-1]] = *f.Number
		} else {
			node[parts[len(parts)-1]] = f.Value
		}
	}
	require.Equal(t, map[string]interface{}{
		"a": map[string]interface{}{
			"b": map[string]interface{}{"c": "deep"},
			"d": float64(1),
		},
		"e": "top",
	}, rebuilt)
}

func TestFieldsArraysAreOpaque(t *testing.T) {
	fields := Fields(decode(t, `{"layers": [64, 32, {"act": "relu"}]}`), false)
	require.Len(t, fields, 1)
	require.Equal(t, "layers", fields[0].Key)
	require.Equal(t, TypeText, fields[0].Type)
	require.JSONEq(t, `[64, 32, {"act": "relu"}]`, fields[0].Value)
}

func TestFieldsEmptyInputs(t *testing.T) {
	require.Empty(t, Fields(nil, false))
	require.Empty(t, Fields(decode(t, `{}`), false))
	// A bare scalar has no key to attach to.
	require.Empty(t, Fields(decode(t, `"just a string"`), false))
	require.Empty(t, Fields(decode(t, `3.14`), false))
}

func TestFieldsBareScalarUnderPrefix(t *testing.T) {
	fields := walk("config", decode(t, `7`), false)
	require.Len(t, fields, 1)
	require.Equal(t, "config", fields[0].Key)
	require.Equal(t, TypeNumber, fields[0].Type)
}

func TestFieldsSkipsReservedPrefixes(t *testing.T) {
	v := decode(t, `{"_wandb": {"cli_version": "0.15"}, "_runboard_internal": 1, "lr": 0.1}`)
	fields := Fields(v, true)
	require.Len(t, fields, 1)
	require.Equal(t, "lr", fields[0].Key)

	// Reserved keys survive when skipping is off (system metadata path).
	require.Len(t, Fields(v, false), 3)
}

func TestFieldsNullLeavesDropped(t *testing.T) {
	fields := Fields(decode(t, `{"a": null, "b": {"c": null}}`), false)
	require.Empty(t, fields)
}

func TestFieldsDeterministicOrder(t *testing.T) {
	v := decode(t, `{"z": 1, "a": {"y": 2, "b": 3}, "m": 4}`)
	var keys []string
	for _, f := range Fields(v, false) {
		keys = append(keys, f.Key)
	}
	require.Equal(t, []string{"a.b", "a.y", "m", "z"}, keys)
}
