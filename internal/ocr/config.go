package ocr

import "time"

// Config holds the external tool and service settings shared by the
// renderer and the tier runners.
type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	Pdftoppm  string // binary name or absolute path; if empty -> "pdftoppm"
	Tesseract string // binary name or absolute path; if empty -> "tesseract"

	TesseractLang string // default "eng"
	DPI           int    // rasterization DPI for scanned PDFs, default 300
	MaxPages      int    // 0 = no limit
	TessdataDir   string

	PSM int // e.g., 6 is good for uniform block of text
	OEM int // 1 = LSTM; leave 0 to use default

	DeepOCRBaseURL string // deep-learning OCR service, e.g. http://localhost:8501

	// Per-call timeout ceilings. Tier 3 gets the longest budget.
	RenderTimeout  time.Duration
	OCRTimeout     time.Duration
	DeepOCRTimeout time.Duration

	ArtifactDir string // parent directory for rendered page images
}

func (c Config) withDefaults() Config {
	if c.Pdftotext == "" {
		c.Pdftotext = "pdftotext"
	}
	if c.Pdftoppm == "" {
		c.Pdftoppm = "pdftoppm"
	}
	if c.Tesseract == "" {
		c.Tesseract = "tesseract"
	}
	if c.TesseractLang == "" {
		c.TesseractLang = "eng"
	}
	if c.DPI <= 0 {
		c.DPI = 300
	}
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 60 * time.Second
	}
	if c.OCRTimeout <= 0 {
		c.OCRTimeout = 2 * time.Minute
	}
	if c.DeepOCRTimeout <= 0 {
		c.DeepOCRTimeout = 5 * time.Minute
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = "./tmp"
	}
	return c
}
