package invoice

import (
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"strings"
	"time"

	"github.com/septivank/water-billing/internal/billing"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/tools/monthkey"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed invoice.html.tmpl
var invoiceTemplate string

// View is the data the invoice template renders
type View struct {
	Profile         Profile
	IssuedOn        string
	Month           string
	HouseNumber     string
	OwnerName       string
	PreviousReading string
	CurrentReading  string
	UnitsUsed       string
	RatePerUnit     string
	TotalAmount     string
	MeterImage      template.URL
}

// Renderer renders printable invoices
type Renderer struct {
	profile Profile
	printer *message.Printer
	tmpl    *template.Template
}

// NewRenderer parses the invoice template for profile
func NewRenderer(profile Profile) (*Renderer, error) {
	tag, err := language.Parse(profile.Locale)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice locale %q: %w", profile.Locale, err)
	}
	tmpl, err := template.New("invoice").Parse(invoiceTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse invoice template: %w", err)
	}
	return &Renderer{
		profile: profile,
		printer: message.NewPrinter(tag),
		tmpl:    tmpl,
	}, nil
}

// Build prepares the template data for one reading. The rate shown is the
// one stored on the reading.
func (r *Renderer) Build(house db.House, reading db.MeterReading) View {
	view := View{
		Profile:         r.profile,
		IssuedOn:        thaiDate(reading.DateRecorded),
		Month:           reading.Month,
		HouseNumber:     house.HouseNumber,
		OwnerName:       house.OwnerName,
		PreviousReading: r.number(reading.PreviousReading),
		CurrentReading:  r.number(reading.CurrentReading),
		UnitsUsed:       r.number(reading.UnitsUsed),
		RatePerUnit:     r.number(reading.RatePerUnit),
		TotalAmount:     r.Amount(reading.TotalAmount),
	}
	if reading.MeterImage != nil && *reading.MeterImage != "" {
		view.MeterImage = imageURL(*reading.MeterImage)
	}
	return view
}

// Render writes the HTML invoice for reading to w
func (r *Renderer) Render(w io.Writer, house db.House, reading db.MeterReading) error {
	if err := r.tmpl.Execute(w, r.Build(house, reading)); err != nil {
		return fmt.Errorf("failed to render invoice: %w", err)
	}
	return nil
}

// Amount formats money with grouping and exactly two decimals
func (r *Renderer) Amount(amount float64) string {
	return r.printer.Sprintf("%.2f", billing.RoundForDisplay(amount).InexactFloat64())
}

// number formats a reading or unit count with grouping and no trailing zeros
func (r *Renderer) number(v float64) string {
	rounded := billing.RoundForDisplay(v)
	if rounded.IsInteger() {
		return r.printer.Sprintf("%d", rounded.IntPart())
	}
	s := rounded.String()
	places := len(s) - strings.IndexByte(s, '.') - 1
	return r.printer.Sprintf(fmt.Sprintf("%%.%df", places), rounded.InexactFloat64())
}

// thaiDate formats t as day, Thai month name and Buddhist-era year
func thaiDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	label, err := monthkey.Label(monthkey.FromTime(t))
	if err != nil {
		return t.Format("2006-01-02")
	}
	return fmt.Sprintf("%d %s", t.Day(), label)
}

// imageURL marks a validated image payload as safe for an img src
func imageURL(image string) template.URL {
	if strings.HasPrefix(image, "data:image/") {
		return template.URL(image)
	}
	return template.URL("data:image/jpeg;base64," + image)
}
