package certificate

import (
	"bytes"
	"fmt"
	"image/color"
	"time"

	"github.com/fogleman/gg"
	"github.com/go-pdf/fpdf"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"
)

// Document holds what gets printed on a certificate.
type Document struct {
	Holder      string
	CourseTitle string
	Folio       string
	IssuedAt    time.Time
	Hash        string
}

type Renderer interface {
	Render(doc Document) ([]byte, error)
}

const (
	canvasWidth  = 1754 // A4 landscape at 150 dpi
	canvasHeight = 1240
)

// PDFRenderer draws the certificate artwork with gg and wraps it in a
// single-page A4 landscape PDF.
type PDFRenderer struct {
	title   *truetype.Font
	regular *truetype.Font
}

func NewPDFRenderer() (*PDFRenderer, error) {
	bold, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse bold font: %w", err)
	}
	regular, err := truetype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse regular font: %w", err)
	}
	return &PDFRenderer{title: bold, regular: regular}, nil
}

func face(f *truetype.Font, size float64) font.Face {
	return truetype.NewFace(f, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
}

func (r *PDFRenderer) artwork(doc Document) ([]byte, error) {
	const w, h = float64(canvasWidth), float64(canvasHeight)
	dc := gg.NewContext(canvasWidth, canvasHeight)

	dc.SetColor(color.White)
	dc.Clear()

	navy := color.NRGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff}
	gold := color.NRGBA{R: 0xc9, G: 0xa2, B: 0x27, A: 0xff}

	dc.SetColor(navy)
	dc.SetLineWidth(18)
	dc.DrawRectangle(45, 45, w-90, h-90)
	dc.Stroke()
	dc.SetColor(gold)
	dc.SetLineWidth(5)
	dc.DrawRectangle(80, 80, w-160, h-160)
	dc.Stroke()

	dc.SetColor(navy)
	dc.SetFontFace(face(r.title, 95))
	dc.DrawStringAnchored("CONSTANCIA DE ACREDITACIÓN", w/2, 280, 0.5, 0.5)

	dc.SetColor(color.NRGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff})
	dc.SetFontFace(face(r.regular, 45))
	dc.DrawStringAnchored("Se otorga la presente a", w/2, 430, 0.5, 0.5)

	dc.SetColor(navy)
	dc.SetFontFace(face(r.title, 85))
	dc.DrawStringAnchored(doc.Holder, w/2, 555, 0.5, 0.5)

	dc.SetColor(gold)
	dc.SetLineWidth(3)
	dc.DrawLine(w*0.2, 625, w*0.8, 625)
	dc.Stroke()

	dc.SetColor(color.NRGBA{R: 0x44, G: 0x44, B: 0x44, A: 0xff})
	dc.SetFontFace(face(r.regular, 45))
	dc.DrawStringAnchored("por haber acreditado satisfactoriamente el curso", w/2, 710, 0.5, 0.5)

	dc.SetColor(navy)
	dc.SetFontFace(face(r.title, 60))
	dc.DrawStringWrapped(doc.CourseTitle, w/2, 810, 0.5, 0, w*0.7, 1.3, gg.AlignCenter)

	dc.SetColor(color.NRGBA{R: 0x66, G: 0x66, B: 0x66, A: 0xff})
	dc.SetFontFace(face(r.regular, 32))
	dc.DrawStringAnchored("Folio: "+doc.Folio, 160, h-210, 0, 0.5)
	dc.DrawStringAnchored("Fecha de emisión: "+doc.IssuedAt.UTC().Format("02/01/2006"), w-160, h-210, 1, 0.5)
	if doc.Hash != "" {
		dc.SetFontFace(face(r.regular, 22))
		dc.DrawStringAnchored("Verificación: "+doc.Hash, w/2, h-140, 0.5, 0.5)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode certificate artwork: %w", err)
	}
	return buf.Bytes(), nil
}

func (r *PDFRenderer) Render(doc Document) ([]byte, error) {
	art, err := r.artwork(doc)
	if err != nil {
		return nil, err
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Constancia "+doc.Folio, true)
	pdf.SetSubject(doc.CourseTitle, true)
	pdf.SetCreationDate(doc.IssuedAt)
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("artwork", opts, bytes.NewReader(art))
	pageW, pageH := pdf.GetPageSize()
	pdf.ImageOptions("artwork", 0, 0, pageW, pageH, false, opts, 0, "")

	var out bytes.Buffer
	if err := pdf.Output(&out); err != nil {
		return nil, fmt.Errorf("write certificate pdf: %w", err)
	}
	return out.Bytes(), nil
}
