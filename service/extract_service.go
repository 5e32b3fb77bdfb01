package service

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/tieubaoca/cramcortex-be/types"
)

// ExtractService turns a stored document into plain text. Native text-layer
// extraction runs first; pages whose text is empty or below the printable
// density threshold fall back to OCR on a rendered page image.
type ExtractService struct {
	minTextDensity float64
	minPageChars   int
}

func NewExtractService(minTextDensity float64) *ExtractService {
	if minTextDensity <= 0 {
		minTextDensity = 0.6
	}
	return &ExtractService{
		minTextDensity: minTextDensity,
		minPageChars:   30,
	}
}

// Extract dispatches on the declared content type. The returned result always
// has non-empty Text, otherwise the error is ErrNoUsableText.
func (s *ExtractService) Extract(ctx context.Context, path, contentType string) (*types.ExtractResult, error) {
	var (
		result *types.ExtractResult
		err    error
	)
	switch {
	case strings.HasPrefix(contentType, "application/pdf"):
		result, err = s.extractPDF(ctx, path)
	case strings.Contains(contentType, "wordprocessingml") || strings.HasSuffix(path, ".docx"):
		result, err = s.extractDocx(path)
	case strings.HasPrefix(contentType, "image/"):
		result, err = s.extractImage(ctx, path)
	default:
		return nil, fmt.Errorf("%w: %s", types.ErrUnsupportedFormat, contentType)
	}
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Text) == "" {
		return nil, types.ErrNoUsableText
	}
	return result, nil
}

func (s *ExtractService) extractPDF(ctx context.Context, path string) (*types.ExtractResult, error) {
	totalPages, err := getNumPages(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf info: %w", err)
	}

	result := &types.ExtractResult{Pages: make([]types.PageText, 0, totalPages)}
	var sb strings.Builder

	for pageNum := 1; pageNum <= totalPages; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := s.extractPage(ctx, path, pageNum)
		result.Pages = append(result.Pages, page)
		if page.Text != "" {
			sb.WriteString(page.Text)
			sb.WriteString("\n")
		}
	}

	result.Text = cleanText(sb.String())
	return result, nil
}

// extractPage tries the text layer first and falls back to OCR when the page
// looks scanned. A page where both paths fail is kept with zero confidence so
// downstream stages see the gap.
func (s *ExtractService) extractPage(ctx context.Context, path string, pageNum int) types.PageText {
	text, err := extractTextWithPdftotext(ctx, path, pageNum)
	density := printableDensity(text)
	if err == nil && len(text) >= s.minPageChars && density >= s.minTextDensity {
		return types.PageText{Number: pageNum, Text: text, Confidence: density}
	}

	ocrText, ocrErr := extractPageWithTesseract(ctx, path, pageNum)
	if ocrErr != nil {
		log.Printf("page %d: text layer and OCR both failed: %v / %v", pageNum, err, ocrErr)
		return types.PageText{Number: pageNum, Text: text, Confidence: 0}
	}
	return types.PageText{
		Number:     pageNum,
		Text:       ocrText,
		Confidence: printableDensity(ocrText) * 0.8, // OCR output is never fully trusted
		OCR:        true,
	}
}

func (s *ExtractService) extractImage(ctx context.Context, path string) (*types.ExtractResult, error) {
	text, err := runTesseract(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrNoUsableText, err)
	}
	text = cleanText(text)
	return &types.ExtractResult{
		Text: text,
		Pages: []types.PageText{
			{Number: 1, Text: text, Confidence: printableDensity(text) * 0.8, OCR: true},
		},
	}, nil
}

// extractDocx reads word/document.xml out of the zip container and collects
// the text runs. Paragraph boundaries become newlines so the segmenter keeps
// its structural cues.
func (s *ExtractService) extractDocx(path string) (*types.ExtractResult, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open docx: %w", err)
	}
	defer r.Close()

	var docFile *zip.File
	for _, f := range r.File {
		if f.Name == "word/document.xml" {
			docFile = f
			break
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("%w: docx has no word/document.xml", types.ErrNoUsableText)
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var sb strings.Builder
	decoder := xml.NewDecoder(rc)
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.CharData:
			sb.Write(el)
		case xml.EndElement:
			if el.Name.Local == "p" {
				sb.WriteString("\n")
			}
		}
	}

	text := cleanText(sb.String())
	return &types.ExtractResult{
		Text: text,
		Pages: []types.PageText{
			{Number: 1, Text: text, Confidence: printableDensity(text)},
		},
	}, nil
}

func extractTextWithPdftotext(ctx context.Context, path string, pageNumber int) (string, error) {
	cmd := exec.CommandContext(ctx, "pdftotext",
		"-f", strconv.Itoa(pageNumber),
		"-l", strconv.Itoa(pageNumber),
		"-enc", "UTF-8", "-nopgbrk",
		path, "-")
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext page %d: %w", pageNumber, err)
	}
	trimmed := strings.TrimSpace(out.String())
	if trimmed == "" {
		return "", fmt.Errorf("got nothing at page %d", pageNumber)
	}
	return trimmed, nil
}

// extractPageWithTesseract renders one page to an image with pdftoppm and
// OCRs it. The temp directory is removed on every exit path.
func extractPageWithTesseract(ctx context.Context, pdfPath string, pageNumber int) (string, error) {
	tempDir, err := os.MkdirTemp("", "cramcortex-ocr-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp directory: %w", err)
	}
	defer os.RemoveAll(tempDir)

	convertCmd := exec.CommandContext(ctx, "pdftoppm",
		"-f", strconv.Itoa(pageNumber),
		"-l", strconv.Itoa(pageNumber),
		"-r", "300",
		"-png", pdfPath, filepath.Join(tempDir, "page"))
	if err := convertCmd.Run(); err != nil {
		return "", fmt.Errorf("failed to render page %d: %w", pageNumber, err)
	}

	images, err := filepath.Glob(filepath.Join(tempDir, "page-*.png"))
	if err != nil || len(images) == 0 {
		return "", fmt.Errorf("no rendered image for page %d", pageNumber)
	}
	return runTesseract(ctx, images[0])
}

func runTesseract(ctx context.Context, imagePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "tesseract",
		imagePath, "stdout",
		"-l", "eng",
		"--oem", "3",
		"--psm", "3",
	)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to run tesseract: %w", err)
	}
	trimmed := strings.TrimSpace(out.String())
	if trimmed == "" {
		return "", fmt.Errorf("tesseract produced no text")
	}
	return trimmed, nil
}

func getNumPages(ctx context.Context, pdfPath string) (int, error) {
	cmd := exec.CommandContext(ctx, "pdfinfo", pdfPath)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("error running pdfinfo: %w", err)
	}

	scanner := bufio.NewScanner(&out)
	re := regexp.MustCompile(`Pages:\s+(\d+)`)
	for scanner.Scan() {
		if matches := re.FindStringSubmatch(scanner.Text()); len(matches) == 2 {
			return strconv.Atoi(matches[1])
		}
	}
	return 0, fmt.Errorf("unable to determine page count from pdfinfo")
}

// printableDensity is the share of printable, non-replacement characters.
// Scanned pages run through a broken text layer score low here.
func printableDensity(text string) float64 {
	if text == "" {
		return 0
	}
	total, printable := 0, 0
	for _, r := range text {
		total++
		if r == '�' {
			continue
		}
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			printable++
		}
	}
	return float64(printable) / float64(total)
}

func cleanText(text string) string {
	replacements := map[string]string{
		"\x00":   "",   // null character
		"\uFFFD": "",   // replacement character
		"\x1b":   "",   // escape character
		"\r":     "",   // carriage return
		"\f":     "\n", // form feed to newline
	}
	cleaned := text
	for old, repl := range replacements {
		cleaned = strings.ReplaceAll(cleaned, old, repl)
	}

	lines := strings.Split(cleaned, "\n")
	kept := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if strings.TrimSpace(line) == "" {
			// collapse runs of blank lines down to one
			if !blank {
				kept = append(kept, "")
			}
			blank = true
			continue
		}
		blank = false
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n"))
}
