package bart

import (
	"math"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/ezoic/bart/bart/rng"
)

func TestCreateStateRestoreStateRoundTrip(t *testing.T) {
	fit, err := NewFit(defaultControl(30), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	for i := 0; i < 10; i++ {
		fit.sweepTrees()
	}

	blob := fit.CreateState()

	other, err := NewFit(defaultControl(31), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	other.RestoreState(blob)

	if len(other.totalFits) != len(fit.totalFits) {
		t.Fatalf("totalFits length mismatch after restore")
	}
	for i := range fit.totalFits {
		if other.totalFits[i] != fit.totalFits[i] {
			t.Fatalf("totalFits[%d] = %v after restore, want %v", i, other.totalFits[i], fit.totalFits[i])
		}
	}
	if other.sigma != fit.sigma {
		t.Fatalf("sigma = %v after restore, want %v", other.sigma, fit.sigma)
	}
	if other.residualPrior.scale != fit.residualPrior.scale {
		t.Fatalf("residualPrior.scale = %v after restore, want %v", other.residualPrior.scale, fit.residualPrior.scale)
	}
	for ti := range fit.trees {
		if len(other.trees[ti].nodes) != len(fit.trees[ti].nodes) {
			t.Fatalf("tree %d node count mismatch after restore", ti)
		}
	}
}

func TestSaveToFileLoadFromFileRoundTrip(t *testing.T) {
	fit, err := NewFit(defaultControl(32), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	if _, err := fit.RunSampler(5, 5); err != nil {
		t.Fatalf("RunSampler: %v", err)
	}

	path := filepath.Join(t.TempDir(), "fit.gob")
	if err := fit.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}

	if loaded.sd.n != fit.sd.n || loaded.sd.p != fit.sd.p {
		t.Fatalf("loaded dims (n=%d, p=%d) != original (n=%d, p=%d)", loaded.sd.n, loaded.sd.p, fit.sd.n, fit.sd.p)
	}
	for i := range fit.totalFits {
		if math.Abs(loaded.totalFits[i]-fit.totalFits[i]) > 1e-12 {
			t.Fatalf("totalFits[%d] = %v after load, want %v", i, loaded.totalFits[i], fit.totalFits[i])
		}
	}
	if loaded.sigma != fit.sigma {
		t.Fatalf("sigma = %v after load, want %v", loaded.sigma, fit.sigma)
	}

	// The loaded fit's Rng is a placeholder until SetRng is called.
	loaded.SetRng(rng.New(rand.New(rand.NewSource(1))))
	if _, err := loaded.RunSampler(2, 2); err != nil {
		t.Fatalf("RunSampler after SetRng: %v", err)
	}
}

func TestLoadFromFileBeforeSetRngUsesPlaceholder(t *testing.T) {
	fit, err := NewFit(defaultControl(33), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	path := filepath.Join(t.TempDir(), "fit.gob")
	if err := fit.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile: %v", err)
	}
	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if _, ok := loaded.control.Rng.(placeholderRng); !ok {
		t.Fatalf("loaded fit's Rng = %T, want placeholderRng before SetRng is called", loaded.control.Rng)
	}
}

func TestStoreStateIsRestoreStateAlias(t *testing.T) {
	fit, err := NewFit(defaultControl(34), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	for i := 0; i < 5; i++ {
		fit.sweepTrees()
	}
	blob := fit.CreateState()

	fresh, err := NewFit(defaultControl(35), defaultModel(), tinyData(20))
	if err != nil {
		t.Fatalf("NewFit: %v", err)
	}
	fresh.StoreState(blob)
	for i := range blob.TotalFits {
		if fresh.totalFits[i] != blob.TotalFits[i] {
			t.Fatalf("StoreState did not restore totalFits[%d]", i)
		}
	}
}
