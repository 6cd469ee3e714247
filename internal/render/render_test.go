package render

import (
	"bytes"
	"errors"
	"image/png"
	"sync"
	"testing"
)

func TestRenderCards(t *testing.T) {
	r, err := NewCardRenderer()
	if err != nil {
		t.Fatalf("NewCardRenderer: %v", err)
	}

	tests := []struct {
		name string
		card Card
		text string
		f    Fields
	}{
		{"manifesto", CardManifesto, "Тезис первый.\n\nТезис второй, длинный настолько, что его придется переносить на новую строку.", Fields{Title: "📜 МАНИФЕСТ АЛЕКСА", Footer: "AlterEgo"}},
		{"manifesto default title", CardManifesto, "text", Fields{}},
		{"mindprint", CardMindprint, "Ты идешь ва-банк, когда другие считают риски.", Fields{Title: "ХОЛОДНЫЙ СТРАТЕГ", Stats: []int{80, 20, 90}}},
		{"mindprint out of range stats", CardMindprint, "", Fields{Title: "X", Stats: []int{-5, 500}}},
		{"blackbox", CardBlackbox, "", Fields{}},
		{"dossier", CardDossier, "", Fields{Rows: []Row{{"CODENAME:", "IRON_WOLF"}, {"THREAT (Fear):", "остаться никем"}}, Footer: "ID: 42"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := r.Render(tt.card, tt.text, tt.f)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			img, err := png.Decode(bytes.NewReader(out))
			if err != nil {
				t.Fatalf("output is not a PNG: %v", err)
			}
			b := img.Bounds()
			if b.Dx() != Width || b.Dy() != Height {
				t.Errorf("size = %dx%d, want %dx%d", b.Dx(), b.Dy(), Width, Height)
			}
		})
	}
}

func TestRenderUnknownCard(t *testing.T) {
	r, err := NewCardRenderer()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.Render(Card("poster"), "", Fields{}); !errors.Is(err, ErrUnknownCard) {
		t.Errorf("expected ErrUnknownCard, got %v", err)
	}
}

func TestRenderConcurrent(t *testing.T) {
	r, err := NewCardRenderer()
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Render(CardMindprint, "text", Fields{Title: "T"}); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
