package inference

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"tradesignal/internal/features"
	"tradesignal/internal/model"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

const testScaler = `{"kind":"standard","feature_names_in":["close","rsi"],"mean":[100,50],"scale":[10,0]}`

// Scores: SELL = -z_close, HOLD = 0, BUY = z_close.
const testLogistic = `{"kind":"logistic","classes":[0,1,2],
  "coef":[[-1,0],[0,0],[1,0]],"intercept":[0,0.5,0]}`

func loadTestModel(t *testing.T, clf string) *Model {
	t.Helper()
	dir := t.TempDir()
	m, err := Load(writeFile(t, dir, "scaler.json", testScaler), writeFile(t, dir, "clf.json", clf))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return m
}

func TestPredict_Logistic(t *testing.T) {
	m := loadTestModel(t, testLogistic)

	cases := []struct {
		close float64
		want  model.Signal
	}{
		{130, model.SignalBuy},  // z = 3
		{100, model.SignalHold}, // z = 0, intercept favours HOLD
		{70, model.SignalSell},  // z = -3
	}
	for _, tc := range cases {
		p, err := m.Predict(features.Row{"close": tc.close, "rsi": 50})
		if err != nil {
			t.Fatalf("Predict(%v): %v", tc.close, err)
		}
		if p.Signal != tc.want {
			t.Errorf("close=%v: got %s, want %s", tc.close, p.Signal, tc.want)
		}
		if len(p.Missing) != 0 {
			t.Errorf("close=%v: unexpected missing %v", tc.close, p.Missing)
		}
	}
}

func TestPredict_MissingFeatureZeroFilled(t *testing.T) {
	m := loadTestModel(t, testLogistic)

	// close missing -> 0.0 -> z = -10 -> SELL.
	p, err := m.Predict(features.Row{"rsi": 40})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Signal != model.SignalSell {
		t.Errorf("got %s, want SELL", p.Signal)
	}
	if len(p.Missing) != 1 || p.Missing[0] != "close" {
		t.Errorf("Missing = %v, want [close]", p.Missing)
	}
}

func TestPredict_Forest(t *testing.T) {
	// One stump on close (feature 0): z <= 0 -> SELL-heavy leaf, else BUY-heavy.
	forest := `{"kind":"forest","classes":[0,1,2],"trees":[
	  [{"feature":0,"threshold":0,"left":1,"right":2},
	   {"feature":0,"left":-1,"right":-1,"value":[8,2,0]},
	   {"feature":0,"left":-1,"right":-1,"value":[0,1,9]}],
	  [{"feature":0,"left":-1,"right":-1,"value":[1,2,1]}]
	]}`
	m := loadTestModel(t, forest)

	p, err := m.Predict(features.Row{"close": 120, "rsi": 50})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if p.Signal != model.SignalBuy {
		t.Errorf("got %s, want BUY", p.Signal)
	}
	p, _ = m.Predict(features.Row{"close": 90, "rsi": 50})
	if p.Signal != model.SignalSell {
		t.Errorf("got %s, want SELL", p.Signal)
	}
}

func TestLoad_Unavailable(t *testing.T) {
	dir := t.TempDir()
	scaler := writeFile(t, dir, "scaler.json", testScaler)

	cases := map[string][2]string{
		"missing scaler": {filepath.Join(dir, "nope.json"), writeFile(t, dir, "a.json", testLogistic)},
		"corrupt scaler": {writeFile(t, dir, "b.json", `{not json`), writeFile(t, dir, "c.json", testLogistic)},
		"shape mismatch": {writeFile(t, dir, "d.json", `{"kind":"standard","feature_names_in":["a"],"mean":[1,2],"scale":[1]}`), writeFile(t, dir, "e.json", testLogistic)},
		"missing clf":    {scaler, filepath.Join(dir, "nope.json")},
		"coef width":     {scaler, writeFile(t, dir, "f.json", `{"kind":"logistic","classes":[0,1,2],"coef":[[1],[1],[1]],"intercept":[0,0,0]}`)},
		"unknown class":  {scaler, writeFile(t, dir, "g.json", `{"kind":"logistic","classes":[0,1,7],"coef":[[1,0],[1,0],[1,0]],"intercept":[0,0,0]}`)},
		"unknown kind":   {scaler, writeFile(t, dir, "h.json", `{"kind":"svm","classes":[0,1,2]}`)},
		"bad tree index": {scaler, writeFile(t, dir, "i.json", `{"kind":"forest","classes":[0,1,2],"trees":[[{"feature":0,"left":5,"right":6}]]}`)},
	}
	for name, paths := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(paths[0], paths[1])
			if !errors.Is(err, ErrModelUnavailable) {
				t.Fatalf("got %v, want ErrModelUnavailable", err)
			}
		})
	}
}

func TestLogistic_Binary(t *testing.T) {
	clf, err := NewLogistic([]int{0, 2}, [][]float64{{1}}, []float64{0}, 1)
	if err != nil {
		t.Fatalf("NewLogistic: %v", err)
	}
	if got := clf.Predict([]float64{0.5}); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
	if got := clf.Predict([]float64{-0.5}); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}
