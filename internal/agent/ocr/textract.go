package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"

	"github.com/feichai0017/tender-ingest/config"
	"github.com/feichai0017/tender-ingest/internal/models"
	"github.com/feichai0017/tender-ingest/pkg/logger"
)

// TextractAPI is the subset of the Textract client the engine calls.
type TextractAPI interface {
	AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error)
}

// Textract runs OCR through AWS Textract AnalyzeDocument with table
// extraction enabled.
type Textract struct {
	client        TextractAPI
	minConfidence float32
	logger        logger.Logger
}

func NewTextract(ctx context.Context, cfg config.TextractConfig, log logger.Logger) (*Textract, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}
	client := textract.NewFromConfig(awsCfg, func(o *textract.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return NewTextractWithClient(client, cfg.MinConfidence, log), nil
}

func NewTextractWithClient(client TextractAPI, minConfidence float32, log logger.Logger) *Textract {
	return &Textract{client: client, minConfidence: minConfidence, logger: log}
}

func (t *Textract) Name() string { return "textract" }

func (t *Textract) Recognize(ctx context.Context, img image.Image) (Result, error) {
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		return Result{}, fmt.Errorf("failed to encode image: %w", err)
	}

	out, err := t.client.AnalyzeDocument(ctx, &textract.AnalyzeDocumentInput{
		Document:     &types.Document{Bytes: buf.Bytes()},
		FeatureTypes: []types.FeatureType{types.FeatureTypeTables},
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to analyze document: %w", err)
	}
	return t.collect(out.Blocks), nil
}

func (t *Textract) collect(blocks []types.Block) Result {
	byID := make(map[string]types.Block, len(blocks))
	for _, b := range blocks {
		if b.Id != nil {
			byID[*b.Id] = b
		}
	}

	var (
		lines []string
		sum   float64
		n     int
		res   Result
	)
	for _, b := range blocks {
		switch b.BlockType {
		case types.BlockTypeLine:
			if b.Text == nil || b.Confidence == nil || *b.Confidence < t.minConfidence {
				continue
			}
			lines = append(lines, *b.Text)
			sum += float64(*b.Confidence)
			n++
		case types.BlockTypeTable:
			if table := tableFromBlock(b, byID); len(table.Rows) > 0 {
				res.Tables = append(res.Tables, table)
			}
		}
	}
	res.Text = strings.Join(lines, "\n")
	if n > 0 {
		res.Confidence = sum / float64(n)
	}
	return res
}

func tableFromBlock(table types.Block, byID map[string]types.Block) models.Table {
	var rows, cols int32
	var cells []types.Block
	for _, id := range childIDs(table) {
		cell, ok := byID[id]
		if !ok || cell.BlockType != types.BlockTypeCell || cell.RowIndex == nil || cell.ColumnIndex == nil {
			continue
		}
		cells = append(cells, cell)
		rows = max(rows, *cell.RowIndex)
		cols = max(cols, *cell.ColumnIndex)
	}

	grid := make([][]string, rows)
	for i := range grid {
		grid[i] = make([]string, cols)
	}
	for _, cell := range cells {
		var words []string
		for _, id := range childIDs(cell) {
			if w, ok := byID[id]; ok && w.Text != nil {
				words = append(words, *w.Text)
			}
		}
		grid[*cell.RowIndex-1][*cell.ColumnIndex-1] = strings.Join(words, " ")
	}
	return models.Table{Rows: grid}
}

func childIDs(b types.Block) []string {
	var ids []string
	for _, rel := range b.Relationships {
		if rel.Type == types.RelationshipTypeChild {
			ids = append(ids, rel.Ids...)
		}
	}
	return ids
}
