// Package caption describes figure images with a vision-language model. The
// model is asked for a JSON object holding a short technical caption, the
// scientific entities it sees and a few explanatory bullets.
package caption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/astrorag-go/internal/logging"
)

// maxImageBytes bounds the image payload sent inline to the model.
const maxImageBytes = 8 << 20

// ErrImageTooLarge is returned for figure files above maxImageBytes.
var ErrImageTooLarge = errors.New("caption: image too large")

// prompt is sent alongside every figure image.
const prompt = "You are an expert astrophysics assistant. Analyze the figure and output ONLY valid JSON.\n" +
	"JSON schema:\n" +
	"{\n" +
	"  \"caption\": \"Concise technical caption (1-2 sentences).\",\n" +
	"  \"entities\": [\"List of detected scientific entities, symbols, variables, instruments.\"],\n" +
	"  \"bullets\": [\"3-5 bullet points describing what the figure shows scientifically.\"]\n" +
	"}\n" +
	"Rules:\n" +
	"- English only.\n" +
	"- Be precise and technical.\n" +
	"- Do not include markdown.\n"

// Result is the structured description of one figure.
type Result struct {
	Caption  string   `json:"caption"`
	Entities []string `json:"entities"`
	Bullets  []string `json:"bullets"`
}

// Captioner describes the image stored at imagePath.
type Captioner interface {
	Caption(ctx context.Context, imagePath string) (*Result, error)
}

// VLMCaptioner implements Captioner on top of a multimodal chat model.
type VLMCaptioner struct {
	model model.BaseChatModel
	name  string
}

// NewVLMCaptioner returns a captioner backed by m. name labels the model in
// logs.
func NewVLMCaptioner(m model.BaseChatModel, name string) (*VLMCaptioner, error) {
	if m == nil {
		return nil, fmt.Errorf("caption: model must not be nil")
	}
	return &VLMCaptioner{model: m, name: name}, nil
}

// Caption sends the image and the JSON prompt to the model and parses the
// reply. A reply without a JSON object yields ErrNoJSON; text outside the
// English-only policy yields langpolicy.ErrViolation.
func (c *VLMCaptioner) Caption(ctx context.Context, imagePath string) (*Result, error) {
	msg, err := imageMessage(imagePath)
	if err != nil {
		return nil, err
	}

	resp, err := c.model.Generate(ctx, []*schema.Message{msg})
	if err != nil {
		return nil, fmt.Errorf("caption: %s inference failed for %s: %w", c.name, imagePath, err)
	}
	if resp == nil {
		return nil, fmt.Errorf("caption: %s returned no message for %s", c.name, imagePath)
	}

	res, err := parseOutput(resp.Content)
	if err != nil {
		logging.FromContext(ctx).Warn("caption: unusable model output",
			slog.String("image", imagePath),
			slog.String("model", c.name),
			slog.Any("error", err),
		)
		return nil, err
	}
	return res, nil
}

// imageMessage builds the user message carrying the prompt and the image as
// a base64 data URL.
func imageMessage(imagePath string) (*schema.Message, error) {
	info, err := os.Stat(imagePath)
	if err != nil {
		return nil, fmt.Errorf("caption: stat %s: %w", imagePath, err)
	}
	if info.Size() > maxImageBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrImageTooLarge, imagePath, info.Size())
	}
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("caption: read %s: %w", imagePath, err)
	}

	mime := mimeType(imagePath)
	url := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
	return &schema.Message{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: prompt},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: url, MIMEType: mime}},
		},
	}, nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".tif", ".tiff":
		return "image/tiff"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
