package constants

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, "pdf", NormalizeExt(".PDF"))
	assert.Equal(t, "jpeg", NormalizeExt("JPEG"))
}

func TestMapExtToFormat(t *testing.T) {
	assert.Equal(t, PDF, MapExtToFormat("pdf"))
	assert.Equal(t, IMAGE, MapExtToFormat(".PNG"))
	assert.Equal(t, IMAGE, MapExtToFormat("tiff"))
	assert.Empty(t, MapExtToFormat("docx"))
}
