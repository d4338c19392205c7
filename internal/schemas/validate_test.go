package schemas

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keywordsSchema = `{
  "type": "object",
  "required": ["keywords"],
  "properties": {"keywords": {"type": "array", "items": {"type": "string"}}}
}`

func TestSchema_Valid(t *testing.T) {
	s, err := Compile("keywords", keywordsSchema)
	require.NoError(t, err)
	assert.NoError(t, s.Validate([]byte(`{"keywords": ["go", "postgres"]}`)))
}

func TestSchema_MissingField(t *testing.T) {
	s, err := Compile("keywords", keywordsSchema)
	require.NoError(t, err)

	err = s.Validate([]byte(`{}`))
	require.Error(t, err)
	validationErr, ok := err.(*ValidationError)
	require.True(t, ok, "error should be ValidationError type")
	require.Len(t, validationErr.Errors, 1)
	assert.Equal(t, "(root)", validationErr.Errors[0].Field)
}

func TestSchema_WrongType(t *testing.T) {
	s, err := Compile("keywords", keywordsSchema)
	require.NoError(t, err)

	err = s.Validate([]byte(`{"keywords": [1, 2]}`))
	require.Error(t, err)
	validationErr, ok := err.(*ValidationError)
	require.True(t, ok)
	assert.Contains(t, validationErr.Errors[0].Field, "keywords")
	assert.Contains(t, err.Error(), "validation failed")
}

func TestSchema_MalformedDocument(t *testing.T) {
	s, err := Compile("object", `{"type": "object"}`)
	require.NoError(t, err)

	err = s.Validate([]byte(`{not json`))
	var validationErr *ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestCompile_InvalidSchema(t *testing.T) {
	_, err := Compile("broken", `{"type": 12}`)
	var loadErr *SchemaLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Contains(t, err.Error(), "broken")
}

func TestCache_CompilesOnce(t *testing.T) {
	c := NewCache()
	require.NoError(t, c.Validate("step1", keywordsSchema, []byte(`{"keywords": []}`)))
	// A different document under the same name is ignored once compiled.
	require.NoError(t, c.Validate("step1", `{"type": "string"}`, []byte(`{"keywords": []}`)))
	assert.Len(t, c.schemas, 1)
}

func TestValidateFile(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(good, []byte(`{"keywords": ["a"]}`), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte(`{"keywords": "a"}`), 0o644))

	assert.NoError(t, ValidateFile("keywords", keywordsSchema, good))
	assert.Error(t, ValidateFile("keywords", keywordsSchema, bad))

	err := ValidateFile("keywords", keywordsSchema, filepath.Join(dir, "missing.json"))
	assert.Contains(t, err.Error(), "failed to read JSON file")
}
