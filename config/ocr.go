package config

import "time"

const (
	OCREngineTesseract = "tesseract"
	OCREngineTextract  = "textract"
	OCREngineNone      = "none"
)

type OCRConfig struct {
	Engine        string         `yaml:"engine"`
	Languages     []string       `yaml:"languages"`
	Threshold     int            `yaml:"threshold"`
	MinConfidence float64        `yaml:"min_confidence"`
	Preprocess    bool           `yaml:"preprocess"`
	Textract      TextractConfig `yaml:"textract"`
	Render        RenderConfig   `yaml:"render"`
}

// RenderConfig configures pdftoppm, which renders PDF pages whose embedded
// images cannot be decoded.
type RenderConfig struct {
	PdftoppmPath string        `yaml:"pdftoppm_path"`
	DPI          int           `yaml:"dpi"`
	Timeout      time.Duration `yaml:"timeout"`
	TempDir      string        `yaml:"temp_dir"`
}

// CADConfig configures the external drawing converter.
type CADConfig struct {
	ConverterPath string        `yaml:"converter_path"`
	TargetVersion string        `yaml:"target_version"`
	Timeout       time.Duration `yaml:"timeout"`
	TempDir       string        `yaml:"temp_dir"`
}

func applyOCREnv(c *OCRConfig) {
	c.Engine = getEnv("OCR_ENGINE", c.Engine)
	c.Languages = getEnvList("TESSERACT_LANG", c.Languages)
	c.Threshold = getEnvInt("OCR_THRESHOLD", c.Threshold)
	c.MinConfidence = getEnvFloat("OCR_MIN_CONFIDENCE", c.MinConfidence)
	applyTextractEnv(&c.Textract)
	c.Render.PdftoppmPath = getEnv("PDFTOPPM_PATH", c.Render.PdftoppmPath)
	c.Render.DPI = getEnvInt("PDF_RENDER_DPI", c.Render.DPI)
	c.Render.Timeout = getEnvDuration("PDF_RENDER_TIMEOUT", c.Render.Timeout)
}

func applyCADEnv(c *CADConfig) {
	c.ConverterPath = getEnv("ODA_CONVERTER_PATH", c.ConverterPath)
	c.TargetVersion = getEnv("ODA_TARGET_VERSION", c.TargetVersion)
	c.Timeout = getEnvDuration("ODA_TIMEOUT", c.Timeout)
	c.TempDir = getEnv("CAD_TEMP_DIR", c.TempDir)
}
