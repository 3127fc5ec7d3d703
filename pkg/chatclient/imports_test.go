package chatclient

import (
	"go/parser"
	"go/token"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The client and the protocol it speaks must build without the server stack.
func TestClientImportsStayLeaf(t *testing.T) {
	forbidden := []string{
		"github.com/example/presence-chat/modules/",
		"github.com/go-monolith/mono",
		"gorm.io/",
		"github.com/redis/",
		"github.com/mattn/go-sqlite3",
	}

	for _, dir := range []string{".", "../../domain/chat"} {
		files, err := filepath.Glob(filepath.Join(dir, "*.go"))
		require.NoError(t, err)
		require.NotEmpty(t, files)

		for _, file := range files {
			if strings.HasSuffix(file, "_test.go") {
				continue
			}
			f, err := parser.ParseFile(token.NewFileSet(), file, nil, parser.ImportsOnly)
			require.NoError(t, err)
			for _, imp := range f.Imports {
				path, err := strconv.Unquote(imp.Path.Value)
				require.NoError(t, err)
				for _, prefix := range forbidden {
					assert.False(t, strings.HasPrefix(path, prefix), "%s imports %s", file, path)
				}
			}
		}
	}
}
