package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/lamb-project/lamb-kb-server/internal/apierr"
	"github.com/lamb-project/lamb-kb-server/internal/chunker"
	"github.com/lamb-project/lamb-kb-server/pkg/models"
	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// MarkitdownIngest converts PDF, Office, and HTML documents to Markdown,
// then chunks them with the same knobs as simple_ingest. It also writes an
// HTML rendering next to the source file for preview.
type MarkitdownIngest struct{}

func NewMarkitdownIngest() *MarkitdownIngest { return &MarkitdownIngest{} }

func (p *MarkitdownIngest) Name() string { return "markitdown_ingest" }
func (p *MarkitdownIngest) Kind() Kind   { return KindFileIngest }
func (p *MarkitdownIngest) Description() string {
	return "Converts PDF, .docx, .xlsx, and HTML documents to Markdown before chunking."
}
func (p *MarkitdownIngest) SupportedFileTypes() []string {
	return []string{".pdf", ".docx", ".xlsx", ".html", ".htm"}
}

func (p *MarkitdownIngest) Parameters() []ParamSchema {
	return chunkingParams()
}

func (p *MarkitdownIngest) Ingest(ctx context.Context, req IngestRequest) ([]models.Chunk, error) {
	ext := strings.ToLower(filepath.Ext(req.FilePath))

	var markdown, html string
	var err error
	switch ext {
	case ".pdf":
		markdown, html, err = convertPDF(req.FilePath)
	case ".docx":
		markdown, html, err = convertDocx(req.FilePath)
	case ".xlsx":
		markdown, html, err = convertXlsx(req.FilePath)
	case ".html", ".htm":
		markdown, html, err = convertHTML(req.FilePath)
	default:
		return nil, apierr.BadInput("markitdown_ingest: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, apierr.PluginError(fmt.Sprintf("markitdown_ingest: %v", err))
	}

	if err := os.WriteFile(strings.TrimSuffix(req.FilePath, filepath.Ext(req.FilePath))+".html", []byte(html), 0o644); err != nil {
		return nil, apierr.PluginError(fmt.Sprintf("markitdown_ingest: write preview: %v", err))
	}

	cfg := chunker.DefaultChunkerConfig()
	if v, ok := req.Params["chunk_size"]; ok {
		cfg.ChunkSize = toInt(v, cfg.ChunkSize)
	}
	if v, ok := req.Params["chunk_overlap"]; ok {
		cfg.ChunkOverlap = toInt(v, cfg.ChunkOverlap)
	}
	if v, ok := req.Params["splitter_type"].(string); ok && v != "" {
		cfg.Splitter = chunker.SplitterType(v)
	}

	parts := chunker.ChunkText(markdown, cfg)
	now := time.Now().UTC().Format(time.RFC3339)
	chunks := make([]models.Chunk, 0, len(parts))
	for _, part := range parts {
		chunks = append(chunks, models.Chunk{
			Text: part.Text,
			Metadata: map[string]interface{}{
				models.MetaSource:             req.FilePath,
				models.MetaChunkingStrategy:   string(cfg.Splitter),
				models.MetaChunkIndex:         part.Index,
				models.MetaChunkCount:         len(parts),
				models.MetaIngestionTimestamp: now,
				models.MetaDocumentID:         uuid.NewString(),
			},
		})
	}
	return chunks, nil
}

func convertPDF(path string) (markdown, html string, err error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(plain); err != nil {
		return "", "", fmt.Errorf("read pdf text: %w", err)
	}
	text := buf.String()
	return text, "<html><body><pre>" + text + "</pre></body></html>", nil
}

func convertDocx(path string) (markdown, html string, err error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", "", fmt.Errorf("open docx: %w", err)
	}
	defer r.Close()
	text := r.Editable().GetContent()
	return text, "<html><body><pre>" + text + "</pre></body></html>", nil
}

func convertXlsx(path string) (markdown, html string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var sb strings.Builder
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		sb.WriteString("## " + sheet + "\n\n")
		for _, row := range rows {
			sb.WriteString(strings.Join(row, " | "))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	text := sb.String()
	return text, "<html><body><pre>" + text + "</pre></body></html>", nil
}

func convertHTML(path string) (markdown, html string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("read html: %w", err)
	}
	return htmlToMarkdown(raw)
}

// htmlToMarkdown strips script/style tags via goquery, then converts the
// remaining document to Markdown; the original (unstripped) HTML is
// returned as the preview rendering.
func htmlToMarkdown(raw []byte) (markdown, html string, err error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style").Remove()
	cleaned, err := doc.Html()
	if err != nil {
		return "", "", fmt.Errorf("render cleaned html: %w", err)
	}

	converter := md.NewConverter("", true, nil)
	out, err := converter.ConvertString(cleaned)
	if err != nil {
		return "", "", fmt.Errorf("convert to markdown: %w", err)
	}
	return out, string(raw), nil
}
