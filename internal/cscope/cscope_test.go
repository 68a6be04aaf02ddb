package cscope

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOutput_StandardRecords(t *testing.T) {
	t.Parallel()
	out := "power.c init_power 15 int init_power(void) {\n" +
		"thermal.c adjust_thermal 23 \tinit_power();\n"

	refs := ParseOutput(out)
	require.Len(t, refs, 2)

	assert.Equal(t, "power.c", refs[0].File)
	assert.Equal(t, "init_power", refs[0].Function)
	assert.Equal(t, 15, refs[0].Line)
	assert.Equal(t, "int init_power(void) {", refs[0].Text)

	assert.Equal(t, "thermal.c", refs[1].File)
	assert.Equal(t, "init_power();", refs[1].Text, "leading whitespace before the line text is trimmed")
}

func TestParseOutput_LineTextWithSpaces(t *testing.T) {
	t.Parallel()
	refs := ParseOutput("a.c main 4 return helper(2) + helper(3);\n")
	require.Len(t, refs, 1)
	assert.Equal(t, "return helper(2) + helper(3);", refs[0].Text)
}

func TestParseOutput_GlobalIncludeRecords(t *testing.T) {
	t.Parallel()
	refs := ParseOutput(`a.c <global> 1 #include "b.h"` + "\n")
	require.Len(t, refs, 1)
	assert.Equal(t, "<global>", refs[0].Function)
	assert.Equal(t, `#include "b.h"`, refs[0].Text)
}

func TestParseOutput_SkipsMalformedLines(t *testing.T) {
	t.Parallel()
	out := "just-a-file\n" +
		"file func notanumber text\n" +
		"\n" +
		"a.c main 4 helper(2);\n"

	refs := ParseOutput(out)
	require.Len(t, refs, 1)
	assert.Equal(t, "a.c", refs[0].File)
}

func TestParseOutput_MissingTextIsEmpty(t *testing.T) {
	t.Parallel()
	refs := ParseOutput("a.c main 4\n")
	require.Len(t, refs, 1)
	assert.Empty(t, refs[0].Text)
}

func TestWriteManifest(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), ManifestName)
	require.NoError(t, WriteManifest(path, []string{
		"a.c",
		"drivers/thermal.c",
		"odd name.c",
	}))

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "a.c\ndrivers/thermal.c\n\"odd name.c\"\n", string(content))
}

func TestOpen_RequiresExistingDatabase(t *testing.T) {
	t.Parallel()
	_, err := Open("", t.TempDir(), filepath.Join(t.TempDir(), DatabaseName))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cscope database not found")
}
