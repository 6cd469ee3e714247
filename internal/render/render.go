// Package render draws the shareable cards sent by the dialogue flows:
// the legacy manifesto, the mindprint profile, the locked black box and the dossier.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image/color"
	"math"
	"math/rand"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// Card selects a layout.
type Card string

const (
	CardManifesto Card = "manifesto"
	CardMindprint Card = "mindprint"
	CardBlackbox  Card = "blackbox"
	CardDossier   Card = "dossier"
)

// Portrait canvas, 4:5.
const (
	Width  = 1080
	Height = 1350
)

// ErrUnknownCard is returned for a card the renderer has no layout for.
var ErrUnknownCard = errors.New("unknown card")

// Row is a labelled value on the dossier card.
type Row struct {
	Label string
	Value string
}

// Fields carries the structured data a card needs besides its body text.
type Fields struct {
	Title  string
	Stats  []int // mindprint axes RISK, LOGIC, POWER, 0..100
	Rows   []Row
	Footer string
}

// Renderer turns text and structured fields into an encoded image.
type Renderer interface {
	Render(card Card, text string, f Fields) ([]byte, error)
}

var (
	voidBlack  = color.RGBA{10, 10, 12, 255}
	gold       = color.RGBA{212, 175, 55, 255}
	softWhite  = color.RGBA{245, 245, 245, 255}
	grey       = color.RGBA{100, 100, 100, 255}
	charcoal   = color.RGBA{15, 15, 15, 255}
	lightGrey  = color.RGBA{220, 220, 220, 255}
	alertRed   = color.RGBA{255, 50, 50, 255}
	lockGrey   = color.RGBA{200, 200, 200, 255}
	stampRed   = color.RGBA{200, 50, 50, 255}
	dossierBg  = color.RGBA{20, 20, 20, 255}
	dossierInk = color.RGBA{230, 230, 230, 255}
)

// CardRenderer renders cards with the Go font family, which covers Latin and Cyrillic.
type CardRenderer struct {
	regular *truetype.Font
	bold    *truetype.Font

	// truetype faces keep glyph caches and are not safe for concurrent use.
	mu    sync.Mutex
	faces map[faceKey]font.Face
	rng   *rand.Rand
}

type faceKey struct {
	bold bool
	size float64
}

// NewCardRenderer parses the embedded fonts.
func NewCardRenderer() (*CardRenderer, error) {
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse regular font: %w", err)
	}
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse bold font: %w", err)
	}
	return &CardRenderer{
		regular: regular,
		bold:    bold,
		faces:   make(map[faceKey]font.Face),
		rng:     rand.New(rand.NewSource(rand.Int63())),
	}, nil
}

func (r *CardRenderer) face(bold bool, size float64) font.Face {
	k := faceKey{bold: bold, size: size}
	if f, ok := r.faces[k]; ok {
		return f
	}
	src := r.regular
	if bold {
		src = r.bold
	}
	f := truetype.NewFace(src, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	})
	r.faces[k] = f
	return f
}

// Render draws the card and returns PNG bytes.
func (r *CardRenderer) Render(card Card, text string, f Fields) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	dc := gg.NewContext(Width, Height)
	switch card {
	case CardManifesto:
		r.drawManifesto(dc, text, f)
	case CardMindprint:
		r.drawMindprint(dc, text, f)
	case CardBlackbox:
		r.drawBlackbox(dc, f)
	case CardDossier:
		r.drawDossier(dc, f)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCard, card)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("failed to encode PNG: %w", err)
	}
	return buf.Bytes(), nil
}

func fill(dc *gg.Context, c color.Color) {
	dc.SetColor(c)
	dc.DrawRectangle(0, 0, Width, Height)
	dc.Fill()
}

func line(dc *gg.Context, c color.Color, width, x1, y1, x2, y2 float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawLine(x1, y1, x2, y2)
	dc.Stroke()
}

func frame(dc *gg.Context, c color.Color, width, x, y, w, h float64) {
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.DrawRectangle(x, y, w, h)
	dc.Stroke()
}

// centered draws s horizontally centered with its top at y.
func centered(dc *gg.Context, s string, y float64) {
	dc.DrawStringAnchored(s, Width/2, y, 0.5, 1)
}

func (r *CardRenderer) drawManifesto(dc *gg.Context, text string, f Fields) {
	fill(dc, voidBlack)

	// Double gold border with heavy corner accents.
	frame(dc, gold, 2, 50, 50, Width-100, Height-100)
	frame(dc, gold, 1, 65, 65, Width-130, Height-130)
	const accent = 100.0
	for _, c := range [][4]float64{
		{50, 50, 1, 1}, {Width - 50, 50, -1, 1},
		{50, Height - 50, 1, -1}, {Width - 50, Height - 50, -1, -1},
	} {
		line(dc, gold, 8, c[0], c[1], c[0]+c[2]*accent, c[1])
		line(dc, gold, 8, c[0], c[1], c[0], c[1]+c[3]*accent)
	}

	title := f.Title
	if title == "" {
		title = "МАНИФЕСТ"
	}
	dc.SetFontFace(r.face(true, 64))
	dc.SetColor(gold)
	y := 180.0
	for _, l := range dc.WordWrap(title, Width-260) {
		centered(dc, l, y)
		y += 80
	}
	line(dc, softWhite, 3, Width/2-100, y+20, Width/2+100, y+20)

	dc.SetFontFace(r.face(false, 40))
	dc.SetColor(softWhite)
	y += 70
	for _, para := range strings.Split(text, "\n") {
		if strings.TrimSpace(para) == "" {
			y += 30
			continue
		}
		for _, l := range dc.WordWrap(para, Width-260) {
			if y > Height-200 {
				break
			}
			centered(dc, l, y)
			y += 60
		}
	}

	if f.Footer != "" {
		dc.SetFontFace(r.face(false, 28))
		dc.SetColor(grey)
		centered(dc, f.Footer, Height-110)
	}
}

// mindprintAxes are the radar chart axes, clockwise from the top.
var mindprintAxes = []struct {
	label string
	angle float64
	dx    float64
	dy    float64
}{
	{"RISK", -90, -25, -45},
	{"LOGIC", 30, 15, 0},
	{"POWER", 150, -95, 0},
}

func (r *CardRenderer) drawMindprint(dc *gg.Context, text string, f Fields) {
	fill(dc, charcoal)

	dc.SetFontFace(r.face(false, 30))
	dc.SetColor(grey)
	dc.DrawString("MINDPRINT // NEURO_ID_V3", 50, 110)
	line(dc, color.White, 8, 50, 150, Width-50, 150)

	title := strings.TrimSpace(strings.ReplaceAll(f.Title, "#", ""))
	dc.SetFontFace(r.face(true, 84))
	dc.SetColor(color.White)
	y := 200.0
	for _, l := range dc.WordWrap(title, Width-100) {
		dc.DrawStringAnchored(l, 50, y, 0, 1)
		y += 100
	}
	offset := y + 100

	// Radar chart on the right.
	cx, cy, radius := Width/2+220.0, offset+200, 160.0
	axis := make([]gg.Point, len(mindprintAxes))
	for i, a := range mindprintAxes {
		rad := gg.Radians(a.angle)
		axis[i] = gg.Point{X: cx + radius*math.Cos(rad), Y: cy + radius*math.Sin(rad)}
		line(dc, grey, 3, cx, cy, axis[i].X, axis[i].Y)
	}
	polygon(dc, grey, 2, axis)
	dc.SetFontFace(r.face(false, 30))
	dc.SetColor(color.White)
	for i, a := range mindprintAxes {
		dc.DrawStringAnchored(a.label, axis[i].X+a.dx, axis[i].Y+a.dy, 0, 1)
	}
	user := make([]gg.Point, len(mindprintAxes))
	for i, a := range mindprintAxes {
		v := 50
		if i < len(f.Stats) {
			v = clampPercent(f.Stats[i])
		}
		rv := float64(v) / 100 * radius
		rad := gg.Radians(a.angle)
		user[i] = gg.Point{X: cx + rv*math.Cos(rad), Y: cy + rv*math.Sin(rad)}
	}
	polygon(dc, color.White, 6, user)

	// Report column on the left.
	dc.SetColor(color.White)
	dc.DrawRectangle(50, offset, 20, 20)
	dc.Fill()
	dc.SetColor(grey)
	dc.DrawStringAnchored("REPORT:", 90, offset-5, 0, 1)

	dc.SetFontFace(r.face(false, 36))
	dc.SetColor(lightGrey)
	y = offset + 60
	for _, l := range dc.WordWrap(strings.ReplaceAll(text, "#", ""), Width/2-40) {
		if y > Height-250 {
			break
		}
		dc.DrawStringAnchored(l, 50, y, 0, 1)
		y += 54
	}

	if f.Footer != "" {
		dc.SetFontFace(r.face(false, 28))
		dc.SetColor(grey)
		centered(dc, f.Footer, Height-100)
	}
}

func polygon(dc *gg.Context, c color.Color, width float64, pts []gg.Point) {
	if len(pts) == 0 {
		return
	}
	dc.SetColor(c)
	dc.SetLineWidth(width)
	dc.MoveTo(pts[0].X, pts[0].Y)
	for _, p := range pts[1:] {
		dc.LineTo(p.X, p.Y)
	}
	dc.ClosePath()
	dc.Stroke()
}

func clampPercent(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var blackboxLabels = []string{"THREAT LEVEL", "MINDSET FLAW", "SUCCESS PROB", "HIDDEN ASSET", "CRITICAL ERROR"}

const scrambleAlphabet = "!@#$%^&*01"

func (r *CardRenderer) drawBlackbox(dc *gg.Context, f Fields) {
	fill(dc, color.RGBA{5, 5, 8, 255})

	// Padlock.
	cx, cy := Width/2.0, Height/3.0-50
	dc.SetColor(lockGrey)
	dc.SetLineWidth(15)
	dc.DrawArc(cx, cy-80, 60, gg.Radians(180), gg.Radians(360))
	dc.Stroke()
	dc.DrawRectangle(cx-80, cy-40, 160, 140)
	dc.Fill()
	dc.SetColor(color.RGBA{5, 5, 8, 255})
	dc.DrawCircle(cx, cy+30, 20)
	dc.Fill()

	dc.SetFontFace(r.face(true, 50))
	dc.SetColor(alertRed)
	centered(dc, "STATUS: LOCKED", cy+150)

	dc.SetFontFace(r.face(false, 35))
	y := cy + 300
	for _, label := range blackboxLabels {
		dc.SetColor(color.RGBA{150, 150, 150, 255})
		dc.DrawStringAnchored(label+":", 100, y, 0, 1)
		w := float64(200 + r.rng.Intn(200))
		dc.SetColor(color.RGBA{30, 30, 35, 255})
		dc.DrawRectangle(450, y+5, w, 25)
		dc.Fill()
		dc.SetColor(color.RGBA{50, 50, 60, 255})
		dc.DrawStringAnchored(r.scramble(10), 460, y, 0, 1)
		y += 80
	}

	frame(dc, alertRed, 5, 50, Height-400, Width-100, 150)
	dc.SetFontFace(r.face(true, 80))
	dc.SetColor(alertRed)
	title := f.Title
	if title == "" {
		title = "ENCRYPTED FILE"
	}
	centered(dc, title, Height-360)

	dc.SetFontFace(r.face(true, 46))
	dc.SetColor(color.White)
	cta := f.Footer
	if cta == "" {
		cta = "UNLOCK TO VIEW PROTOCOL"
	}
	centered(dc, cta, Height-150)
}

func (r *CardRenderer) scramble(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = scrambleAlphabet[r.rng.Intn(len(scrambleAlphabet))]
	}
	return string(b)
}

func (r *CardRenderer) drawDossier(dc *gg.Context, f Fields) {
	fill(dc, dossierBg)

	dc.SetFontFace(r.face(true, 56))
	dc.SetColor(dossierInk)
	dc.DrawStringAnchored("TOP SECRET // PERSONAL FILE", 50, 50, 0, 1)
	line(dc, dossierInk, 5, 50, 130, Width-50, 130)

	// Stamp in the top right corner.
	sx, sy, sw, sh := Width-350.0, 200.0, 300.0, 120.0
	line(dc, stampRed, 8, sx, sy, sx+50, sy)
	line(dc, stampRed, 8, sx, sy, sx, sy+50)
	line(dc, stampRed, 8, sx+sw, sy+sh, sx+sw-50, sy+sh)
	line(dc, stampRed, 8, sx+sw, sy+sh, sx+sw, sy+sh-50)
	dc.SetColor(stampRed)
	dc.DrawRectangle(sx+20, sy+20, sw-40, sh-40)
	dc.Fill()
	dc.SetFontFace(r.face(true, 35))
	dc.SetColor(dossierBg)
	dc.DrawStringAnchored("CLASSIFIED", sx+sw/2, sy+sh/2, 0.5, 0.5)

	dc.SetFontFace(r.face(false, 35))
	y := 200.0
	for _, row := range f.Rows {
		if y > Height-160 {
			break
		}
		dc.SetColor(color.RGBA{150, 150, 150, 255})
		dc.DrawStringAnchored(row.Label, 50, y, 0, 1)
		y += 45
		dc.SetColor(dossierInk)
		for _, l := range dc.WordWrap(strings.ToUpper(row.Value), Width-450) {
			dc.DrawStringAnchored(l, 70, y, 0, 1)
			y += 45
		}
		y += 40
	}

	if f.Footer != "" {
		dc.SetColor(color.RGBA{80, 80, 80, 255})
		dc.DrawStringAnchored(f.Footer, 50, Height-100, 0, 1)
	}
}
