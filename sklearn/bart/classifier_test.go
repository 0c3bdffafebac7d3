package bart

import (
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func smallClassificationData(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 1, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, float64(i))
		if i%2 == 0 {
			y.Set(i, 0, 0)
		} else {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func quickClassifier() *Classifier {
	c := NewClassifier()
	c.NumTrees = 10
	c.NumBurnIn = 5
	c.NumSamples = 15
	c.PredictNumSamples = 15
	c.RandomState = 2
	return c
}

func TestClassifierFitPredictProba(t *testing.T) {
	X, y := smallClassificationData(20)
	clf := quickClassifier()

	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if !clf.IsFitted() {
		t.Fatal("IsFitted() = false after a successful Fit")
	}

	probs, err := clf.PredictProba(X)
	if err != nil {
		t.Fatalf("PredictProba: %v", err)
	}
	rows, cols := probs.Dims()
	if rows != 20 || cols != 1 {
		t.Fatalf("PredictProba dims = (%d, %d), want (20, 1)", rows, cols)
	}
	for i := 0; i < rows; i++ {
		p := probs.At(i, 0)
		if p < 0 || p > 1 {
			t.Fatalf("PredictProba[%d] = %v, want in [0, 1]", i, p)
		}
	}
}

func TestClassifierPredictReturnsOriginalLabels(t *testing.T) {
	X, y := smallClassificationData(20)
	clf := quickClassifier()
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	preds, err := clf.Predict(X)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	rows, _ := preds.Dims()
	for i := 0; i < rows; i++ {
		v := preds.At(i, 0)
		if v != 0 && v != 1 {
			t.Fatalf("Predict[%d] = %v, want 0 or 1", i, v)
		}
	}
}

func TestClassifierFitRejectsNonBinaryLabels(t *testing.T) {
	X := mat.NewDense(3, 1, []float64{1, 2, 3})
	y := mat.NewDense(3, 1, []float64{0, 1, 2})
	clf := quickClassifier()
	if err := clf.Fit(X, y); err == nil {
		t.Fatal("expected error for a response with more than two distinct values")
	}
}

func TestSignedLabelsMapsLargerToPositive(t *testing.T) {
	neg, pos, signed, err := signedLabels([]float64{5, 2, 5, 2})
	if err != nil {
		t.Fatalf("signedLabels: %v", err)
	}
	if neg != 2 || pos != 5 {
		t.Fatalf("neg, pos = %v, %v, want 2, 5", neg, pos)
	}
	want := []float64{1, -1, 1, -1}
	for i := range want {
		if signed[i] != want[i] {
			t.Fatalf("signed[%d] = %v, want %v", i, signed[i], want[i])
		}
	}
}

func TestSignedLabelsRejectsSingleValue(t *testing.T) {
	_, _, _, err := signedLabels([]float64{1, 1, 1})
	if err == nil {
		t.Fatal("expected error for a response with only one distinct value")
	}
}

func TestClassifierScore(t *testing.T) {
	X, y := smallClassificationData(20)
	clf := quickClassifier()
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	acc, err := clf.Score(X, y)
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if acc < 0 || acc > 1 {
		t.Fatalf("Score = %v, want in [0, 1]", acc)
	}
}

func TestClassifierSaveLoadModel(t *testing.T) {
	X, y := smallClassificationData(20)
	clf := quickClassifier()
	if err := clf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	path := filepath.Join(t.TempDir(), "classifier.gob")
	if err := clf.SaveModel(path); err != nil {
		t.Fatalf("SaveModel: %v", err)
	}

	loaded := NewClassifier()
	if err := loaded.LoadModel(path); err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	if !loaded.IsFitted() {
		t.Fatal("IsFitted() = false after LoadModel")
	}
	if _, err := loaded.Predict(X); err != nil {
		t.Fatalf("Predict on loaded classifier: %v", err)
	}
}

func TestClassifierWithMatchBayesTreeProbit(t *testing.T) {
	clf := NewClassifier().WithMatchBayesTreeProbit(true)
	if !clf.MatchBayesTree {
		t.Fatal("WithMatchBayesTreeProbit(true) did not set MatchBayesTree")
	}
}
