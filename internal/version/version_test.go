package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	old := Version
	Version = "v1.4.0"
	t.Cleanup(func() { Version = old })

	info := Get()
	assert.Equal(t, "v1.4.0", info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Contains(t, info.String(), "v1.4.0\n  commit:     "+GitCommit)
}
