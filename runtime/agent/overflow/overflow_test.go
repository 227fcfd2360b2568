package overflow

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSize(t *testing.T) {
	assert.Equal(t, 3, Size("one two three"))
	assert.Equal(t, 2, Size([]string{"a.py", "b.py"}))
	assert.Equal(t, 3, Size(map[string]any{"a": "x y"}))
	assert.Equal(t, 2, Size(map[string]any{"k": "a,b:c"}), "separators inside strings are text")
	assert.Equal(t, 3, Size(map[string]any{"k": `say "a,b"`}), "escaped quotes keep the string open")
	assert.Equal(t, 4, Size(json.RawMessage(`{"a":1,"b":2}`)))
}

func TestSizeCountsStructuredElements(t *testing.T) {
	files := make([]string, 2000)
	for i := range files {
		files[i] = fmt.Sprintf("src/pkg%d/file%d.go", i/10, i)
	}
	assert.Equal(t, 2000, Size(files))
	assert.True(t, Exceeds(files, 0))

	rows := make([]map[string]any, 50)
	for i := range rows {
		rows[i] = map[string]any{"name": fmt.Sprintf("f%d", i), "size": i}
	}
	assert.Equal(t, 200, Size(rows))
}

func TestExceeds(t *testing.T) {
	small := strings.TrimSpace(strings.Repeat("w ", 100))
	large := strings.TrimSpace(strings.Repeat("w ", 101))
	assert.False(t, Exceeds(small, 0))
	assert.True(t, Exceeds(large, 0))
	assert.True(t, Exceeds(small, 10))
}

func TestNotFound(t *testing.T) {
	assert.ErrorIs(t, NotFound("xyz"), ErrNotFound)
	assert.Contains(t, NotFound("xyz").Error(), `"xyz"`)
}
