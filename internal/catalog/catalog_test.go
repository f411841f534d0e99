package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupByTagCaseInsensitive(t *testing.T) {
	c := Default()
	recipe, err := c.Lookup("PyThOn", nil)
	require.NoError(t, err)
	require.Equal(t, "main.py", recipe.SourceFilename)
}

func TestLookupByNumericAlias(t *testing.T) {
	c := Default()
	id := 50
	recipe, err := c.Lookup("not-a-real-tag", &id)
	require.NoError(t, err)
	require.Equal(t, "main.c", recipe.SourceFilename)
}

func TestLookupMiss(t *testing.T) {
	c := Default()
	_, err := c.Lookup("cobol", nil)
	require.Error(t, err)
	var unsupported *ErrUnsupportedLanguage
	require.ErrorAs(t, err, &unsupported)
}

func TestInjectedFakeLanguage(t *testing.T) {
	// Per spec.md §9, the catalog is meant to be treated as injected
	// configuration so tests can add a fake recipe without touching source.
	c := New(map[string]Recipe{
		"echo-language": {SourceFilename: "main.echo", RunArgv: []string{"cat", "main.echo"}},
	}, nil)
	recipe, err := c.Lookup("echo-language", nil)
	require.NoError(t, err)
	require.Equal(t, []string{"cat", "main.echo"}, recipe.RunArgv)
}
