package notification

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecodesLegacyShapes(t *testing.T) {
	var r Record
	err := json.Unmarshal([]byte(`{
		"_id": "665f1c2e9b1d8c0012345678",
		"type": "product",
		"message": "Stock low for \"Blue Mug\"",
		"priority": "high",
		"channels": ["inApp", "email", 3],
		"related": {"_id": "665f1c2e9b1d8c00aaaaaaaa", "title": "Blue Mug"},
		"relatedId": "undefined",
		"data": {"product": {"id": "p-1", "stock": "3"}, "quantity": 2},
		"meta": {"originalRelatedId": "null"}
	}`), &r)
	require.NoError(t, err)

	assert.Equal(t, "665f1c2e9b1d8c0012345678", r.ID)
	assert.Equal(t, TypeProduct, r.Type)
	assert.Equal(t, PriorityHigh, r.EffectivePriority())
	assert.Equal(t, []string{"inApp", "email"}, r.Channels)
	assert.Nil(t, r.RelatedID, "\"undefined\" is not an id")
	require.NotNil(t, r.Related)
	assert.Equal(t, "665f1c2e9b1d8c00aaaaaaaa", r.Related.ID)
	require.NotNil(t, r.Data)
	require.NotNil(t, r.Data.Product)
	assert.Equal(t, "p-1", r.Data.Product.ID)
	require.NotNil(t, r.Data.Product.Stock)
	assert.Equal(t, 3.0, *r.Data.Product.Stock)
	require.NotNil(t, r.Data.Quantity)
	assert.Equal(t, 2.0, *r.Data.Quantity)
	require.NotNil(t, r.Meta)
	assert.Nil(t, r.Meta.OriginalRelatedID)
	assert.NotNil(t, r.Doc)
}

func TestRecordWithoutIDDecodes(t *testing.T) {
	var r Record
	require.NoError(t, json.Unmarshal([]byte(`{"type":"other","message":"hi","read":true}`), &r))
	assert.Empty(t, r.ID)
	assert.True(t, r.Read)
	assert.Equal(t, PriorityNormal, r.EffectivePriority())
}

func TestRecordRejectsNonObjects(t *testing.T) {
	var r Record
	assert.ErrorIs(t, json.Unmarshal([]byte(`"text"`), &r), ErrNotAnObject)
}

func TestRecordMarshalsRefsAsIDs(t *testing.T) {
	r := Record{ID: "a", Type: TypeOrder, RelatedID: &Ref{ID: "b"}}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"relatedId":"b"`)
	assert.NotContains(t, string(b), "Doc")
}

func TestNormalizeRef(t *testing.T) {
	assert.Equal(t, "x", NormalizeRef(" x "))
	assert.Equal(t, "", NormalizeRef("null"))
	assert.Equal(t, "42", NormalizeRef(float64(42)))
	assert.Equal(t, "y", NormalizeRef(map[string]any{"id": "y"}))
	assert.Equal(t, "z", NormalizeRef(map[string]any{"_id": "z", "id": "y"}))
	assert.Equal(t, "", NormalizeRef([]any{"a"}))
}
