package ocr

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/textract"
	"github.com/aws/aws-sdk-go-v2/service/textract/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/tender-ingest/pkg/logger"
)

func whitePage(w, h int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	return img
}

func TestUnavailable(t *testing.T) {
	_, err := Unavailable{}.Recognize(context.Background(), whitePage(1, 1))
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = Unavailable{Cause: errors.New("eng.traineddata not found")}.Recognize(context.Background(), whitePage(1, 1))
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "eng.traineddata")
}

func TestPipelineApply(t *testing.T) {
	var order []int
	step := func(n int) Preprocessor {
		return PreprocessFunc(func(img image.Image) (image.Image, error) {
			order = append(order, n)
			return img, nil
		})
	}
	out, err := Pipeline{step(1), step(2), step(3)}.Apply(whitePage(4, 4))
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Equal(t, []int{1, 2, 3}, order)

	_, err = Pipeline{}.Apply(nil)
	assert.Error(t, err)

	failing := PreprocessFunc(func(image.Image) (image.Image, error) { return nil, errors.New("boom") })
	_, err = Pipeline{step(1), failing}.Apply(whitePage(4, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "step 1")

	empty := PreprocessFunc(func(image.Image) (image.Image, error) { return nil, nil })
	_, err = Pipeline{empty}.Apply(whitePage(4, 4))
	assert.Error(t, err)
}

func TestUpscale(t *testing.T) {
	out, err := Upscale(100).Process(whitePage(50, 20))
	require.NoError(t, err)
	assert.Equal(t, 100, out.Bounds().Dx())
	assert.Equal(t, 40, out.Bounds().Dy())

	wide := whitePage(200, 10)
	out, err = Upscale(100).Process(wide)
	require.NoError(t, err)
	assert.Same(t, wide, out)
}

func TestAdaptiveThresholdKeepsDarkMarks(t *testing.T) {
	img := whitePage(20, 20)
	img.SetGray(10, 10, color.Gray{Y: 30})

	out, err := AdaptiveThreshold(5, 8).Process(img)
	require.NoError(t, err)
	g := out.(*image.Gray)
	assert.Equal(t, uint8(0), g.GrayAt(10, 10).Y)
	assert.Equal(t, uint8(255), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), g.GrayAt(11, 10).Y)

	_, err = AdaptiveThreshold(1, 8).Process(img)
	assert.Error(t, err)
}

func TestBinarize(t *testing.T) {
	img := whitePage(2, 1)
	img.SetGray(0, 0, color.Gray{Y: 100})
	out, err := Binarize(128).Process(img)
	require.NoError(t, err)
	g := out.(*image.Gray)
	assert.Equal(t, uint8(0), g.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), g.GrayAt(1, 0).Y)
}

func TestDefaultPipelineProducesBinaryImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			img.Set(x, y, color.RGBA{R: 240, G: 240, B: 230, A: 255})
		}
	}
	opts := DefaultPreprocessOptions()
	opts.MinWidth = 80

	out, err := DefaultPipeline(opts).Apply(img)
	require.NoError(t, err)
	assert.Equal(t, 80, out.Bounds().Dx())
}

type fakeTextract struct {
	out *textract.AnalyzeDocumentOutput
	err error
	in  *textract.AnalyzeDocumentInput
}

func (f *fakeTextract) AnalyzeDocument(ctx context.Context, in *textract.AnalyzeDocumentInput, optFns ...func(*textract.Options)) (*textract.AnalyzeDocumentOutput, error) {
	f.in = in
	return f.out, f.err
}

func line(text string, conf float32) types.Block {
	return types.Block{BlockType: types.BlockTypeLine, Text: aws.String(text), Confidence: aws.Float32(conf)}
}

func word(id, text string) types.Block {
	return types.Block{Id: aws.String(id), BlockType: types.BlockTypeWord, Text: aws.String(text)}
}

func cell(id string, row, col int32, words ...string) types.Block {
	return types.Block{
		Id:            aws.String(id),
		BlockType:     types.BlockTypeCell,
		RowIndex:      aws.Int32(row),
		ColumnIndex:   aws.Int32(col),
		Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: words}},
	}
}

func TestTextractCollectsLinesAndTables(t *testing.T) {
	client := &fakeTextract{out: &textract.AnalyzeDocumentOutput{Blocks: []types.Block{
		line("BILL No. 2", 98),
		line("smudge", 20),
		line("Substructure", 90),
		{
			Id:            aws.String("t1"),
			BlockType:     types.BlockTypeTable,
			Relationships: []types.Relationship{{Type: types.RelationshipTypeChild, Ids: []string{"c1", "c2", "c3", "c4"}}},
		},
		cell("c1", 1, 1, "w1"),
		cell("c2", 1, 2, "w2"),
		cell("c3", 2, 1, "w3"),
		cell("c4", 2, 2, "w4", "w5"),
		word("w1", "Item"),
		word("w2", "Qty"),
		word("w3", "2.1"),
		word("w4", "420"),
		word("w5", "m3"),
	}}}
	engine := NewTextractWithClient(client, 50, logger.NewNop())

	res, err := engine.Recognize(context.Background(), whitePage(4, 4))
	require.NoError(t, err)
	assert.Equal(t, "BILL No. 2\nSubstructure", res.Text)
	assert.InDelta(t, 94, res.Confidence, 0.001)
	require.Len(t, res.Tables, 1)
	assert.Equal(t, [][]string{{"Item", "Qty"}, {"2.1", "420 m3"}}, res.Tables[0].Rows)

	require.NotNil(t, client.in)
	assert.NotEmpty(t, client.in.Document.Bytes)
	assert.Equal(t, []types.FeatureType{types.FeatureTypeTables}, client.in.FeatureTypes)
	assert.Equal(t, "textract", engine.Name())
}

func TestTextractError(t *testing.T) {
	engine := NewTextractWithClient(&fakeTextract{err: errors.New("throttled")}, 0, logger.NewNop())
	_, err := engine.Recognize(context.Background(), whitePage(4, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
}

func TestWithLanguages(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, Languages(ctx))
	assert.Equal(t, ctx, WithLanguages(ctx), "no hints leaves the context untouched")

	hints := []string{"ar", "en"}
	scoped := WithLanguages(ctx, hints...)
	hints[0] = "fr"
	assert.Equal(t, []string{"ar", "en"}, Languages(scoped))
}

func TestPackNames(t *testing.T) {
	installed := []string{"eng", "ara", "osd"}
	fallback := []string{"eng"}

	assert.Equal(t, []string{"ara", "eng"}, PackNames([]string{"ar", "en"}, installed, fallback))
	assert.Equal(t, []string{"ara"}, PackNames([]string{"ara", "ar"}, installed, fallback), "pack names pass through once")
	assert.Equal(t, []string{"ara"}, PackNames([]string{"fr", "ar"}, installed, fallback), "missing packs are skipped")
	assert.Equal(t, fallback, PackNames([]string{"de"}, installed, fallback))
	assert.Equal(t, fallback, PackNames(nil, installed, fallback))
}
