package checkin

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeWrappedList(t *testing.T) {
	body := json.RawMessage(`{
		"clases": [
			{"clase_id": 104996, "dias_clases_id": 237092, "nombre": "CrossFit 18:00", "hora_inicio": "18:00", "hora_fin": "19:00"},
			{"clase_id": "104997", "dias_clases_id": "237093", "nombre": "  Open Box  "}
		]
	}`)

	options := NormalizeClassList(body)
	require.Len(t, options, 2)
	require.Equal(t, "104996-237092", options[0].ID)
	require.Equal(t, "CrossFit 18:00", options[0].Name)
	require.Equal(t, "18:00", options[0].StartTime)
	require.Equal(t, "19:00", options[0].EndTime)
	require.Equal(t, "104997-237093", options[1].ID)
	require.Equal(t, "Open Box", options[1].Name)
}

func TestNormalizeAlternateListKeys(t *testing.T) {
	for _, key := range []string{"options", "data"} {
		body := map[string]any{
			key: []any{
				map[string]any{"value": "104996-237092", "text": "Halterofilia"},
			},
		}
		options := NormalizeClassList(body)
		require.Len(t, options, 1, "key %q", key)
		require.Equal(t, "104996-237092", options[0].ID)
		require.Equal(t, "Halterofilia", options[0].Name)
	}
}

func TestNormalizeIDMap(t *testing.T) {
	options := NormalizeClassList(map[string]any{
		"104996-237092": "CrossFit 18:00",
		"104990-237080": "CrossFit 07:00",
	})
	require.Len(t, options, 2)
	// deterministic order regardless of map iteration
	require.Equal(t, "104990-237080", options[0].ID)
	require.Equal(t, "104996-237092", options[1].ID)
}

func TestNormalizeIDMapRejectsForeignKeys(t *testing.T) {
	options := NormalizeClassList(map[string]any{
		"104996-237092": "CrossFit",
		"status":        "ok",
	})
	require.Empty(t, options)
}

func TestNormalizeMarkup(t *testing.T) {
	markup := `<select>
		<option value="">Selecciona una clase</option>
		<option value="104996-237092">CrossFit 18:00</option>
		<option value="104997-237093"> Open Box </option>
	</select>`

	options := NormalizeClassList(markup)
	require.Len(t, options, 2)
	require.Equal(t, "104996-237092", options[0].ID)
	require.Equal(t, "Open Box", options[1].Name)
}

func TestNormalizeMarkupInsideJSONString(t *testing.T) {
	body, err := json.Marshal(`<option value="104996-237092">CrossFit</option>`)
	if err != nil {
		t.Fatal(err)
	}
	options := NormalizeClassList(json.RawMessage(body))
	require.Len(t, options, 1)
	require.Equal(t, "104996-237092", options[0].ID)
}

func TestNormalizeEmptyShapes(t *testing.T) {
	require.Empty(t, NormalizeClassList(nil))
	require.Empty(t, NormalizeClassList(map[string]any{}))
	require.Empty(t, NormalizeClassList([]any{}))
	require.Empty(t, NormalizeClassList(json.RawMessage(`{}`)))
	require.Empty(t, NormalizeClassList(json.RawMessage(`[]`)))
	require.Empty(t, NormalizeClassList(""))
	require.Empty(t, NormalizeClassList(42))
}

func TestNormalizeSingleIDDegrades(t *testing.T) {
	options := NormalizeClassList([]any{
		map[string]any{"clase_id": 104996.0, "nombre": "CrossFit"},
	})
	require.Len(t, options, 1)
	require.Equal(t, "104996", options[0].ID)
	require.False(t, ValidClassID(options[0].ID))
}

func TestValidClassID(t *testing.T) {
	require.True(t, ValidClassID("104996-237092"))
	require.True(t, ValidClassID("1-2"))
	require.False(t, ValidClassID("104996"))
	require.False(t, ValidClassID("abc-237092"))
	require.False(t, ValidClassID("104996-"))
	require.False(t, ValidClassID(""))
	require.False(t, ValidClassID("104996-237092-3"))
}
