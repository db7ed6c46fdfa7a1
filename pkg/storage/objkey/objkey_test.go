package objkey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildAndParse(t *testing.T) {
	key := Build("tender-042", "abc123", `drawings\A-101.dwg`)
	assert.Equal(t, "projects/tender-042/abc123/A-101.dwg", key)

	project, digest, name, ok := Parse(key)
	assert.True(t, ok)
	assert.Equal(t, "tender-042", project)
	assert.Equal(t, "abc123", digest)
	assert.Equal(t, "A-101.dwg", name)

	_, _, _, ok = Parse("uploads/a.pdf")
	assert.False(t, ok)
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("projects/p/d/spec.PDF"))
	assert.Equal(t, "image/vnd.dwg", ContentType("projects/p/d/A-101.dwg"))
	assert.Equal(t, "application/x-step", ContentType("model.ifc"))
	assert.Equal(t, "application/octet-stream", ContentType("schedule.xer"))
}

func TestMetadata(t *testing.T) {
	assert.Equal(t, map[string]string{"project": "p1", "sha256": "d1"}, Metadata("projects/p1/d1/a.txt"))
	assert.Nil(t, Metadata("a.txt"))
}
