package models

import (
	"github.com/LexiconIndonesia/ocr-worker-service/common/hocr"
	"github.com/LexiconIndonesia/ocr-worker-service/common/work"
)

type RecognizeResponse struct {
	Text       string      `json:"text"`
	Markdown   string      `json:"markdown,omitempty"`
	Confidence float64     `json:"confidence"`
	Words      []hocr.Word `json:"words"`
	HOCR       string      `json:"hocr,omitempty"`
	PSM        string      `json:"psm,omitempty"`
	OEM        string      `json:"oem,omitempty"`
	Version    string      `json:"version,omitempty"`
}

type PDFResponse struct {
	Object string `json:"object"`
	URL    string `json:"url,omitempty"`
	Text   string `json:"text"`
}

type WorkersResponse struct {
	Stats   work.PoolStats      `json:"stats"`
	Workers []work.WorkerInfo   `json:"workers"`
	Running []work.WorkerRecord `json:"running,omitempty"`
}
