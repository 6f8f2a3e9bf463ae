package treatment

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/credence-engine/internal/model"
)

func TestLookup_BuiltinsValidate(t *testing.T) {
	for _, name := range Names() {
		tr, err := Lookup(name)
		if err != nil {
			t.Fatalf("lookup %s: %v", name, err)
		}
		if err := tr.Validate(); err != nil {
			t.Errorf("%s should validate, got %v", name, err)
		}
		if tr.MarketSize != 8 || tr.Rounds != 16 {
			t.Errorf("%s: expected 8 per market and 16 rounds, got %d/%d", name, tr.MarketSize, tr.Rounds)
		}
	}
}

func TestLookup_Unknown(t *testing.T) {
	_, err := Lookup("nope")
	if !errors.Is(err, ErrUnknownTreatment) {
		t.Errorf("expected ErrUnknownTreatment, got %v", err)
	}
	if !errors.Is(err, model.ErrConfiguration) {
		t.Errorf("expected configuration class, got %v", err)
	}
}

func TestLookup_ReturnsCopy(t *testing.T) {
	a, _ := Lookup(Verifiability)
	a.PriceVectors[0].Price1 = 99
	b, _ := Lookup(Verifiability)
	if b.PriceVectors[0].Price1 == 99 {
		t.Error("Lookup leaked the built-in price vectors")
	}
}

func TestTreatment_Steps(t *testing.T) {
	base, _ := Lookup(Baseline)
	if !base.ChoosesPrices() || !base.ChoosesPayment() {
		t.Error("baseline buyers choose prices and payment")
	}
	exo, _ := Lookup(Exogenous)
	if exo.ChoosesPrices() || exo.ChoosesPayment() {
		t.Error("exogenous buyers choose neither prices nor payment")
	}
	ver, _ := Lookup(Verifiability)
	if !ver.ChoosesPrices() || ver.ChoosesPayment() {
		t.Error("verifiability buyers choose prices but not payment")
	}
}

func TestValidate_Invalid(t *testing.T) {
	tr, _ := Lookup(Exogenous)
	tr.PriceVectors = nil
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTreatment) {
		t.Errorf("missing vectors: expected ErrInvalidTreatment, got %v", err)
	}

	tr, _ = Lookup(Verifiability)
	tr.PriceVectors = []model.PriceVector{{Price1: 7, Price2: 2}}
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTreatment) {
		t.Errorf("unordered vector: expected ErrInvalidTreatment, got %v", err)
	}

	tr, _ = Lookup(Baseline)
	tr.Payment = "later"
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTreatment) {
		t.Errorf("bad payment mode: expected ErrInvalidTreatment, got %v", err)
	}

	tr, _ = Lookup(Exogenous)
	tr.ParticipationFee = decimal.NewFromInt(-5)
	if err := tr.Validate(); !errors.Is(err, ErrInvalidTreatment) {
		t.Errorf("negative fee: expected ErrInvalidTreatment, got %v", err)
	}
}

func TestConvert_PerTreatmentRate(t *testing.T) {
	tests := []struct {
		name     string
		points   int64
		currency string
		total    string
	}{
		{Baseline, 40, "10", "10"},
		{Baseline, 37, "9.25", "9.25"},
		{Exogenous, 70, "10", "15"},
		{Verifiability, 10, "1.43", "6.43"},
	}
	for _, tt := range tests {
		tr, err := Lookup(tt.name)
		if err != nil {
			t.Fatal(err)
		}
		currency, total := tr.Convert(decimal.NewFromInt(tt.points))
		if !currency.Equal(decimal.RequireFromString(tt.currency)) {
			t.Errorf("%s %d points: currency %s, want %s", tt.name, tt.points, currency, tt.currency)
		}
		if !total.Equal(decimal.RequireFromString(tt.total)) {
			t.Errorf("%s %d points: total %s, want %s", tt.name, tt.points, total, tt.total)
		}
	}
}

func TestCheckQuiz(t *testing.T) {
	if err := CheckQuiz(map[string]string{"q1": "B", "q2": "a", "q3": " C ", "q4": "A"}); err != nil {
		t.Errorf("correct answers rejected: %v", err)
	}

	err := CheckQuiz(map[string]string{"q1": "A", "q2": "A", "q3": "C"})
	if !errors.Is(err, ErrQuizIncorrect) {
		t.Fatalf("expected ErrQuizIncorrect, got %v", err)
	}
	if !strings.Contains(err.Error(), "q1,q4") {
		t.Errorf("expected wrong ids q1,q4 in %q", err.Error())
	}
}
