package registry_test

import (
	"testing"

	"github.com/ramiqadoumi/go-media-flow/internal/domain"
	"github.com/ramiqadoumi/go-media-flow/internal/registry"
)

// BenchmarkRegistry_Lifecycle measures create, two updates and a read for one task.
func BenchmarkRegistry_Lifecycle(b *testing.B) {
	r := registry.New()
	res := &domain.Result{Artifacts: []domain.Artifact{{Index: 0, LocalPath: "a.png"}}}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		t := r.Create("bench")
		_, _ = r.Update(t.ID, registry.Change{Status: domain.StatusProcessing})
		_, _ = r.Update(t.ID, registry.Change{Status: domain.StatusCompleted, Result: res})
		_, _ = r.Get(t.ID)
	}
}

// BenchmarkRegistry_Get_Parallel measures read throughput under concurrent load.
func BenchmarkRegistry_Get_Parallel(b *testing.B) {
	r := registry.New()
	id := r.Create("bench").ID

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, _ = r.Get(id)
		}
	})
}
