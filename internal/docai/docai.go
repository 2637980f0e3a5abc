// Package docai adapts the Document AI processor API to the dispatcher's
// inline/batch contract.
package docai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"cloud.google.com/go/storage"
	"github.com/docuhealth/docpipe/internal/models"
	"github.com/docuhealth/docpipe/internal/stager"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	// ErrUpstream carries the provider's status and message.
	ErrUpstream = errors.New("document intelligence upstream error")
	// ErrOperationFailed marks a batch job the provider reported as failed.
	ErrOperationFailed = errors.New("batch operation failed")
	// ErrTimeout marks a caller-configured wait ceiling being exceeded.
	// The upstream job itself is left running.
	ErrTimeout = errors.New("document intelligence timeout")
)

// OperationHandle identifies a started batch job and where its output
// shards will land.
type OperationHandle struct {
	Name      string
	OutputURI string
}

// handleSep joins the two handle components into one locator string.
// Neither operation names nor gs:// URIs may contain it.
const handleSep = "#"

// EncodeHandle flattens a handle into the processing record's operation
// locator string.
func EncodeHandle(h OperationHandle) string {
	return h.Name + handleSep + h.OutputURI
}

// ParseHandle reverses EncodeHandle.
func ParseHandle(locator string) (OperationHandle, error) {
	name, output, ok := strings.Cut(locator, handleSep)
	if !ok || name == "" || output == "" {
		return OperationHandle{}, fmt.Errorf("invalid operation locator %q", locator)
	}
	return OperationHandle{Name: name, OutputURI: output}, nil
}

// Client wraps one Document AI processor plus the storage client used to
// read batch output shards.
type Client struct {
	doc           *documentai.DocumentProcessorClient
	storageClient *storage.Client
	processorName string
}

// New returns a Client bound to the given processor resource name.
func New(doc *documentai.DocumentProcessorClient, storageClient *storage.Client, processorName string) *Client {
	return &Client{doc: doc, storageClient: storageClient, processorName: processorName}
}

// ProcessInline runs the processor synchronously on raw bytes.
func (c *Client) ProcessInline(ctx context.Context, content []byte, mimeType string) (*models.Extraction, error) {
	req := &documentaipb.ProcessRequest{
		Name: c.processorName,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  content,
				MimeType: mimeType,
			},
		},
	}

	resp, err := c.doc.ProcessDocument(ctx, req)
	if err != nil {
		return nil, mapUpstreamErr("ProcessDocument", err)
	}
	doc := resp.GetDocument()
	return &models.Extraction{Text: doc.GetText(), Confidence: scoreDocument(doc)}, nil
}

// StartBatch fires off a long-running batch job reading inputURI and
// writing Document JSON shards under outputURI.
func (c *Client) StartBatch(ctx context.Context, inputURI, outputURI, mimeType string) (OperationHandle, error) {
	req := &documentaipb.BatchProcessRequest{
		Name: c.processorName,
		InputDocuments: &documentaipb.BatchDocumentsInputConfig{
			Source: &documentaipb.BatchDocumentsInputConfig_GcsDocuments{
				GcsDocuments: &documentaipb.GcsDocuments{
					Documents: []*documentaipb.GcsDocument{
						{GcsUri: inputURI, MimeType: mimeType},
					},
				},
			},
		},
		DocumentOutputConfig: &documentaipb.DocumentOutputConfig{
			Destination: &documentaipb.DocumentOutputConfig_GcsOutputConfig_{
				GcsOutputConfig: &documentaipb.DocumentOutputConfig_GcsOutputConfig{
					GcsUri: outputURI,
				},
			},
		},
	}

	op, err := c.doc.BatchProcessDocuments(ctx, req)
	if err != nil {
		return OperationHandle{}, mapUpstreamErr("BatchProcessDocuments", err)
	}

	slog.Info("Started batch operation.", "operation", op.Name(), "outputUri", outputURI)
	return OperationHandle{Name: op.Name(), OutputURI: outputURI}, nil
}

// AwaitBatch blocks until the operation reaches a terminal state or ctx
// expires, then reads the output shards and assembles one extraction.
// On ctx expiry the job keeps running upstream; reconciling it is the
// caller's concern.
func (c *Client) AwaitBatch(ctx context.Context, handle OperationHandle) (*models.Extraction, error) {
	op := c.doc.BatchProcessDocumentsOperation(handle.Name)
	if _, err := op.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: waiting on %s: %v", ErrTimeout, handle.Name, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrOperationFailed, handle.Name, err)
	}

	shards, err := c.readOutputShards(ctx, handle.OutputURI)
	if err != nil {
		return nil, err
	}
	return CollectExtraction(shards)
}

// readOutputShards lists the Document JSON shards under the output prefix
// in name order and downloads them concurrently.
func (c *Client) readOutputShards(ctx context.Context, outputURI string) ([][]byte, error) {
	bucket, prefix, err := stager.ParseLocator(outputURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad output locator %q", ErrOperationFailed, outputURI)
	}

	it := c.storageClient.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var names []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: listing batch output under %s: %v", ErrOperationFailed, outputURI, err)
		}
		if strings.HasSuffix(attrs.Name, ".json") {
			names = append(names, attrs.Name)
		}
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no output shards under %s", ErrOperationFailed, outputURI)
	}
	sort.Strings(names)

	shards := make([][]byte, len(names))
	g, gctx := errgroup.WithContext(ctx)
	for i, name := range names {
		g.Go(func() error {
			r, err := c.storageClient.Bucket(bucket).Object(name).NewReader(gctx)
			if err != nil {
				return fmt.Errorf("%w: reading shard %s: %v", ErrOperationFailed, name, err)
			}
			defer r.Close()
			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("%w: reading shard %s: %v", ErrOperationFailed, name, err)
			}
			shards[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return shards, nil
}

func mapUpstreamErr(call string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, call, err)
	}
	if st, ok := status.FromError(err); ok {
		if st.Code() == codes.DeadlineExceeded || st.Code() == codes.Canceled {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, call, err)
		}
		return fmt.Errorf("%w: %s: %s: %s", ErrUpstream, call, st.Code(), st.Message())
	}
	return fmt.Errorf("%w: %s: %v", ErrUpstream, call, err)
}
