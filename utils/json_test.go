package utils

import "testing"

func TestJsonExtract(t *testing.T) {
	doc := []byte(`{"name": "api", "count": 3, "nested": {"x": 1}}`)

	value, err := JsonExtract(doc, "name")
	AssertNil(t, err)
	AssertEquals(t, "api", value)

	_, err = JsonExtract(doc, "missing")
	AssertNonNil(t, err)
}

func TestJsonExtractWithDefaults(t *testing.T) {
	doc := []byte(`{"name": "api", "count": 3}`)

	AssertEquals(t, "api", JsonExtractStringOrDefault(doc, "name", "fallback"))
	AssertEquals(t, "fallback", JsonExtractStringOrDefault(doc, "missing", "fallback"))
	AssertEquals(t, "fallback", JsonExtractStringOrDefault(nil, "name", "fallback"))

	AssertEquals(t, 3, JsonExtractIntOrDefault(doc, "count", 7))
	AssertEquals(t, 7, JsonExtractIntOrDefault(doc, "missing", 7))
	// non-numeric values fall back too
	AssertEquals(t, 7, JsonExtractIntOrDefault(doc, "name", 7))
}
