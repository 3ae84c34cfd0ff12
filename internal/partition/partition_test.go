package partition

import "testing"

func TestNewStripePartitionerRejectsNonPositive(t *testing.T) {
	if _, err := NewStripePartitioner(0); err == nil {
		t.Fatal("expected error for zero stripes")
	}
	if _, err := NewStripePartitioner(-3); err == nil {
		t.Fatal("expected error for negative stripes")
	}
}

func TestAllValidChunksIsContiguousFromZero(t *testing.T) {
	p, err := NewStripePartitioner(20)
	if err != nil {
		t.Fatalf("NewStripePartitioner: %v", err)
	}
	ids := p.AllValidChunks()
	if len(ids) != p.TotalChunks() {
		t.Fatalf("len(ids) = %d, want %d", len(ids), p.TotalChunks())
	}
	for i, id := range ids {
		if id != i {
			t.Fatalf("ids[%d] = %d, want %d", i, id, i)
		}
	}
}

func TestBoundingBoxCoversFullSphere(t *testing.T) {
	p, err := NewStripePartitioner(16)
	if err != nil {
		t.Fatalf("NewStripePartitioner: %v", err)
	}
	var minLat, maxLat float64 = 90, -90
	for _, id := range p.AllValidChunks() {
		box, err := p.BoundingBox(id)
		if err != nil {
			t.Fatalf("BoundingBox(%d): %v", id, err)
		}
		if box.LonMax <= box.LonMin {
			t.Fatalf("chunk %d has empty longitude range: %+v", id, box)
		}
		if box.LatMax <= box.LatMin {
			t.Fatalf("chunk %d has empty latitude range: %+v", id, box)
		}
		if box.LatMin < minLat {
			minLat = box.LatMin
		}
		if box.LatMax > maxLat {
			maxLat = box.LatMax
		}
	}
	if minLat != -90 {
		t.Errorf("min latitude = %g, want -90", minLat)
	}
	if maxLat != 90 {
		t.Errorf("max latitude = %g, want 90", maxLat)
	}
}

func TestBoundingBoxUnknownChunk(t *testing.T) {
	p, err := NewStripePartitioner(10)
	if err != nil {
		t.Fatalf("NewStripePartitioner: %v", err)
	}
	_, err = p.BoundingBox(p.TotalChunks())
	if err == nil {
		t.Fatal("expected error for out-of-range chunk id")
	}
	var unk *ErrUnknownChunk
	if _, ok := err.(*ErrUnknownChunk); !ok {
		t.Fatalf("error type = %T, want *ErrUnknownChunk", err)
	} else {
		unk = err.(*ErrUnknownChunk)
	}
	if unk.ChunkID != p.TotalChunks() {
		t.Errorf("ChunkID = %d, want %d", unk.ChunkID, p.TotalChunks())
	}
}

func TestStripesNearPolesHaveFewerChunks(t *testing.T) {
	p, err := NewStripePartitioner(20)
	if err != nil {
		t.Fatalf("NewStripePartitioner: %v", err)
	}
	equatorBox, _ := p.BoundingBox(p.stripes[len(p.stripes)/2].firstChunkID)
	poleBox, _ := p.BoundingBox(p.stripes[0].firstChunkID)
	equatorWidth := equatorBox.LonMax - equatorBox.LonMin
	poleWidth := poleBox.LonMax - poleBox.LonMin
	if poleWidth <= equatorWidth {
		t.Errorf("pole chunk width %g should exceed equator chunk width %g", poleWidth, equatorWidth)
	}
}
