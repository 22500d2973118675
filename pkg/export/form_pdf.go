package export

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/jung-kurt/gofpdf"
)

// FormCourse is one course line on the printable registration form.
type FormCourse struct {
	Code      string
	Title     string
	Units     int
	CarryOver bool
}

// FormSignature is one countersignature block rendered at the foot of the
// form. Image holds the raw signature image bytes when one is on file.
type FormSignature struct {
	Name     string
	Title    string
	SignedAt string
	Image    []byte
	ImageExt string
}

// FormData carries everything the printable course registration form needs.
type FormData struct {
	SchoolName   string
	StudentName  string
	MatricNumber string
	Department   string
	Level        int
	Session      string
	Semester     string
	Status       string
	TotalUnits   int
	Courses      []FormCourse
	Signatures   []FormSignature
}

// FormPDFRenderer draws the official course registration form.
type FormPDFRenderer struct{}

// NewFormPDFRenderer constructs a form renderer.
func NewFormPDFRenderer() *FormPDFRenderer {
	return &FormPDFRenderer{}
}

// Render produces the PDF bytes for a registration form.
func (r *FormPDFRenderer) Render(data FormData) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	title := data.SchoolName
	if title == "" {
		title = "Course Registration Form"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, strings.ToUpper(title), "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 8, fmt.Sprintf("Course Registration - %s Session, Semester %s", data.Session, data.Semester), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "", 10)
	bio := [][2]string{
		{"Name", data.StudentName},
		{"Matric Number", data.MatricNumber},
		{"Department", data.Department},
		{"Level", fmt.Sprintf("%d", data.Level)},
		{"Status", strings.ToUpper(data.Status)},
	}
	for _, pair := range bio {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(40, 7, pair[0]+":", "", 0, "", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, pair[1], "", 1, "", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(30, 8, "Code", "1", 0, "C", false, 0, "")
	pdf.CellFormat(100, 8, "Course Title", "1", 0, "C", false, 0, "")
	pdf.CellFormat(20, 8, "Units", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "Carry Over", "1", 1, "C", false, 0, "")

	pdf.SetFont("Arial", "", 9)
	for _, course := range data.Courses {
		carry := ""
		if course.CarryOver {
			carry = "Yes"
		}
		pdf.CellFormat(30, 7, course.Code, "1", 0, "", false, 0, "")
		pdf.CellFormat(100, 7, course.Title, "1", 0, "", false, 0, "")
		pdf.CellFormat(20, 7, fmt.Sprintf("%d", course.Units), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 7, carry, "1", 1, "C", false, 0, "")
	}

	pdf.SetFont("Arial", "B", 10)
	pdf.CellFormat(130, 8, "Total Units", "1", 0, "R", false, 0, "")
	pdf.CellFormat(20, 8, fmt.Sprintf("%d", data.TotalUnits), "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 8, "", "1", 1, "", false, 0, "")
	pdf.Ln(10)

	for i, sig := range data.Signatures {
		if sig.Image != nil {
			name := fmt.Sprintf("signature-%d", i)
			imgType := strings.TrimPrefix(strings.ToUpper(sig.ImageExt), ".")
			if imgType == "JPEG" {
				imgType = "JPG"
			}
			opts := gofpdf.ImageOptions{ImageType: imgType, ReadDpi: true}
			pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(sig.Image))
			pdf.ImageOptions(name, pdf.GetX()+5, pdf.GetY(), 40, 15, false, opts, 0, "")
			pdf.Ln(16)
		} else {
			pdf.Ln(14)
		}
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(80, 6, "________________________", "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(80, 6, sig.Name, "", 1, "", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(80, 5, sig.Title, "", 1, "", false, 0, "")
		if sig.SignedAt != "" {
			pdf.CellFormat(80, 5, "Signed "+sig.SignedAt, "", 1, "", false, 0, "")
		}
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render registration form pdf: %w", err)
	}
	return buf.Bytes(), nil
}
