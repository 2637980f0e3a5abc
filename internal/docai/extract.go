package docai

import (
	"fmt"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/docuhealth/docpipe/internal/models"
	"google.golang.org/protobuf/encoding/protojson"
)

// CollectExtraction decodes Document JSON shards and merges them into one
// extraction: text fragments concatenated in shard order, confidence the
// mean of the per-shard scores.
func CollectExtraction(shards [][]byte) (*models.Extraction, error) {
	var texts []string
	var sum float64
	var scored int

	for i, data := range shards {
		doc, err := decodeShard(data)
		if err != nil {
			return nil, fmt.Errorf("%w: shard %d: %v", ErrOperationFailed, i, err)
		}
		if doc.GetText() != "" {
			texts = append(texts, doc.GetText())
		}
		if score := scoreDocument(doc); score != nil {
			sum += *score
			scored++
		}
	}

	ex := &models.Extraction{Text: strings.Join(texts, "\n")}
	if scored > 0 {
		avg := sum / float64(scored)
		ex.Confidence = &avg
	}
	return ex, nil
}

func decodeShard(data []byte) (*documentaipb.Document, error) {
	var doc documentaipb.Document
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// scoreDocument derives a single confidence from a processor response:
// the mean entity confidence when entities are present, otherwise the mean
// page layout confidence. Zero values are treated as unscored, so a
// document with no usable signal yields nil rather than 0.
func scoreDocument(doc *documentaipb.Document) *float64 {
	if doc == nil {
		return nil
	}

	var sum float64
	var n int
	for _, e := range doc.GetEntities() {
		if c := float64(e.GetConfidence()); c > 0 {
			sum += c
			n++
		}
	}
	if n == 0 {
		for _, p := range doc.GetPages() {
			if c := float64(p.GetLayout().GetConfidence()); c > 0 {
				sum += c
				n++
			}
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	return &avg
}
