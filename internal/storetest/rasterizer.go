package storetest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// MinimalPDF is enough of a PDF to pass the header check.
var MinimalPDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

// Rasterizer writes Pages fake JPEG files named like pdftoppm output, or
// fails with Err.
type Rasterizer struct {
	Pages int
	Err   error

	mu    sync.Mutex
	Calls int
}

func (r *Rasterizer) Rasterize(_ context.Context, _ string, dir string) ([]string, error) {
	r.mu.Lock()
	r.Calls++
	r.mu.Unlock()
	if r.Err != nil {
		// leave a partial page behind, as a crashed renderer would
		_ = os.WriteFile(filepath.Join(dir, "page-1.jpg"), []byte{0xff, 0xd8}, 0o644)
		return nil, r.Err
	}
	out := make([]string, 0, r.Pages)
	for i := 1; i <= r.Pages; i++ {
		p := filepath.Join(dir, fmt.Sprintf("page-%02d.jpg", i))
		if err := os.WriteFile(p, []byte{0xff, 0xd8, 0xff, byte(i)}, 0o644); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
