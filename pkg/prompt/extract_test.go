package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractCodeBlocks(t *testing.T) {
	text := "Here you go:\n```python\nprint(1)\n```\nand a fix:\n```cpp\nint main(){}\n```\n"
	blocks := ExtractCodeBlocks(text)
	require.Len(t, blocks, 2)
	assert.Equal(t, "python", blocks[0].Language)
	assert.Equal(t, "print(1)\n", blocks[0].Code)
	assert.Equal(t, "cpp", blocks[1].Language)
}

func TestExtractCode(t *testing.T) {
	text := "```cpp\nint main(){}\n```\n```python\nprint(1)\n```"

	assert.Equal(t, "print(1)\n", ExtractCode(text, "python", "py"))
	assert.Equal(t, "int main(){}\n", ExtractCode(text, "rust"),
		"unmatched language falls back to the first block")

	assert.Equal(t, "#include <cstdio>\nint main(){}\n",
		ExtractCode("#include <cstdio>\nint main(){}"),
		"bare code without fences passes through")

	assert.Equal(t, "", ExtractCode("Sorry, I cannot solve this problem."),
		"prose without code yields nothing")
	assert.Equal(t, "", ExtractCode("   "))
}

func TestExtractLastCode(t *testing.T) {
	text := "Draft:\n```python\nprint('draft')\n```\nFinal version:\n```python\nprint('final')\n```"
	assert.Equal(t, "print('final')\n", ExtractLastCode(text, "python"))
	assert.Equal(t, "", ExtractLastCode("no blocks here"))

	mixed := "```cpp\nint main(){}\n```\n```text\nnotes\n```"
	assert.Equal(t, "int main(){}\n", ExtractLastCode(mixed, "cpp"))
}

func TestSanitizeGeneratorCode(t *testing.T) {
	code, err := SanitizeGeneratorCode("```python\nimport random\nprint(1)\r\n```")
	require.NoError(t, err)
	assert.Equal(t, "import random\nprint(1)\n", code, "fence remnants and CRLF are stripped")

	_, err = SanitizeGeneratorCode("  \n")
	assert.ErrorContains(t, err, "empty")

	for _, bad := range []string{
		"import requests\nrequests.get('http://x')",
		"from subprocess import run",
		"n = input()",
		"os.system('rm -rf /')",
	} {
		_, err := SanitizeGeneratorCode(bad)
		assert.ErrorContains(t, err, "forbidden construct", bad)
	}

	// "input" as a substring of an identifier is fine.
	code, err = SanitizeGeneratorCode("raw_inputs = [1, 2]\nprint(raw_inputs)")
	require.NoError(t, err)
	assert.NotEmpty(t, code)
}

func TestSanitizeSolutionCode(t *testing.T) {
	code, err := SanitizeSolutionCode("int main(){}\r\n")
	require.NoError(t, err)
	assert.Equal(t, "int main(){}\n", code)

	_, err = SanitizeSolutionCode("")
	assert.Error(t, err)
}

func TestIsTrivialSolution(t *testing.T) {
	assert.True(t, IsTrivialSolution(""))
	assert.True(t, IsTrivialSolution("int main(){}"))
	assert.False(t, IsTrivialSolution("#include <bits/stdc++.h>\nint main(){ return 0; }"))
}
