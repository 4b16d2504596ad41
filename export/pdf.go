package export

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/Suraj08832/collabstudy/models"
)

// Page geometry in millimetres. Normalized stroke coordinates are mapped onto
// the drawing area below the header.
const (
	pageWidth   = 297.0
	pageHeight  = 210.0
	margin      = 10.0
	headerSpace = 12.0

	// Stroke widths are in screen pixels at 96 dpi.
	mmPerPixel = 25.4 / 96
)

// WritePDF renders the whiteboard of snap onto a single A4 landscape page.
func WritePDF(w io.Writer, snap models.Snapshot) error {
	p := gofpdf.New("L", "mm", "A4", "")
	p.SetTitle("Whiteboard "+snap.RoomId, true)
	p.SetCreator("collabstudy", true)
	p.AddPage()

	p.SetFont("Helvetica", "", 9)
	p.SetTextColor(90, 90, 90)
	header := fmt.Sprintf("Room %s | sequence %d | %d strokes | %s",
		snap.RoomId, snap.Sequence, len(snap.Strokes),
		time.UnixMilli(snap.ServerTime).UTC().Format(time.RFC3339))
	p.Text(margin, margin, p.UnicodeTranslatorFromDescriptor("")(header))

	area := drawingArea()
	p.SetDrawColor(200, 200, 200)
	p.SetLineWidth(0.2)
	p.Rect(area.x, area.y, area.w, area.h, "D")

	p.SetLineCapStyle("round")
	for _, seg := range snap.Strokes {
		r, g, b := parseColor(seg.Color)
		p.SetDrawColor(r, g, b)
		p.SetLineWidth(seg.Width * mmPerPixel)
		x1, y1 := area.project(seg.From)
		x2, y2 := area.project(seg.To)
		p.Line(x1, y1, x2, y2)
	}

	if err := p.Output(w); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return nil
}

type rect struct {
	x, y, w, h float64
}

func drawingArea() rect {
	top := margin + headerSpace
	return rect{
		x: margin,
		y: top,
		w: pageWidth - 2*margin,
		h: pageHeight - top - margin,
	}
}

func (r rect) project(pt models.Point) (float64, float64) {
	return r.x + pt.X*r.w, r.y + pt.Y*r.h
}

// parseColor reads #RRGGBB, falling back to black.
func parseColor(color string) (int, int, int) {
	if len(color) != 7 || color[0] != '#' {
		return 0, 0, 0
	}
	v, err := strconv.ParseUint(color[1:], 16, 32)
	if err != nil {
		return 0, 0, 0
	}
	return int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)
}
