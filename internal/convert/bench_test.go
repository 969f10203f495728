package convert

import (
	"context"
	"io"
	"testing"

	"github.com/hyperjump/tabdoc/internal/layout"
	"github.com/hyperjump/tabdoc/internal/tabular"
)

func BenchmarkTransform(b *testing.B) {
	rows := genRows(10000)
	l := layout.Resolve(propertyHeader, layout.Overrides{})
	ctx := context.Background()
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		src := tabular.NewMemory("bench", propertyHeader, rows, 0)
		if _, err := Transform(ctx, src, l, io.Discard); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCleanValue(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = CleanValue("  Rua de Santa Catarina, 12 \x01 ")
	}
}
