package vectorstore

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"

	"paperqa/internal/contextutil"
	"paperqa/internal/paper"
)

// QdrantOptions configures a QdrantIndex.
type QdrantOptions struct {
	URL        string // HTTP URL, e.g. "http://localhost:6333"; gRPC is assumed on port+1
	APIKey     string
	Collection string
	Dim        int
}

// QdrantIndex implements Index on a Qdrant collection. Deletion removes points
// outright, so there are no tombstones to skip and filters are applied server-side.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dim        int
	embedder   Embedder
}

// grpcEndpoint derives the gRPC host and port from the HTTP URL.
func grpcEndpoint(urlStr string) (string, int, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", 0, fmt.Errorf("invalid Qdrant URL: %w", err)
	}

	host := parsedURL.Hostname()
	if host == "" {
		host = "localhost"
	}

	port := 6334
	if parsedURL.Port() != "" {
		httpPort, err := strconv.Atoi(parsedURL.Port())
		if err == nil {
			port = httpPort + 1
		}
	}
	return host, port, nil
}

// NewQdrantIndex connects to Qdrant and ensures the collection exists with opts.Dim.
func NewQdrantIndex(ctx context.Context, embedder Embedder, opts QdrantOptions) (*QdrantIndex, error) {
	host, port, err := grpcEndpoint(opts.URL)
	if err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: opts.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Qdrant client: %w", err)
	}

	x := &QdrantIndex{
		client:     client,
		collection: opts.Collection,
		dim:        opts.Dim,
		embedder:   embedder,
	}
	if err := x.ensureCollection(ctx); err != nil {
		return nil, err
	}
	return x, nil
}

// ensureCollection creates the collection, or validates the vector size of an existing one.
func (x *QdrantIndex) ensureCollection(ctx context.Context) error {
	logger := contextutil.LoggerFromContext(ctx)

	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !exists {
		logger.InfoContext(ctx, "creating collection", "collection", x.collection, "vector_size", x.dim)
		err := x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: x.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(x.dim),
				Distance: qdrant.Distance_Dot,
			}),
		})
		if err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}
		return nil
	}

	info, err := x.client.GetCollectionInfo(ctx, x.collection)
	if err != nil {
		return fmt.Errorf("failed to get collection info: %w", err)
	}
	var actual uint64
	if cfg := info.GetConfig(); cfg != nil && cfg.GetParams() != nil {
		if vc := cfg.GetParams().GetVectorsConfig(); vc != nil && vc.GetParams() != nil {
			actual = vc.GetParams().GetSize()
		}
	}
	if actual == 0 {
		return fmt.Errorf("%w: could not determine collection vector size", ErrCorruptIndex)
	}
	if int(actual) != x.dim {
		return fmt.Errorf("%w: collection has %d, configured %d", ErrDimensionMismatch, actual, x.dim)
	}

	logger.InfoContext(ctx, "collection validated", "collection", x.collection, "vector_size", x.dim)
	return nil
}

func (x *QdrantIndex) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := x.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed texts: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != x.dim {
			return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), x.dim)
		}
		l2normalize(v)
	}
	return vecs, nil
}

func documentFilter(ids ...string) *qdrant.Filter {
	if len(ids) == 0 {
		return nil
	}
	return &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatchKeywords("document_id", ids...)},
	}
}

func (x *QdrantIndex) count(ctx context.Context, filter *qdrant.Filter) (int, error) {
	n, err := x.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: x.collection,
		Filter:         filter,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count points: %w", err)
	}
	return int(n), nil
}

// pointID derives a deterministic UUID for a passage.
func pointID(documentID string, chunkIndex int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(PassageID(documentID, chunkIndex))).String()
}

// Add upserts the passages of one document as points, keeping their chunk indices.
// Qdrant applies the batch atomically. A document that already has points is rejected
// with ErrDocumentExists.
func (x *QdrantIndex) Add(ctx context.Context, documentID string, passages []paper.Passage) error {
	logger := contextutil.LoggerFromContext(ctx)

	if documentID == "" {
		return fmt.Errorf("document id is required")
	}
	if len(passages) == 0 {
		return nil
	}

	texts := make([]string, len(passages))
	for i, p := range passages {
		// Point ids derive from the chunk index, so duplicates would overwrite each other.
		if i > 0 && p.ChunkIndex <= passages[i-1].ChunkIndex {
			return fmt.Errorf("passage %d: chunk index %d is not after %d", i, p.ChunkIndex, passages[i-1].ChunkIndex)
		}
		texts[i] = p.Text
	}

	existing, err := x.count(ctx, documentFilter(documentID))
	if err != nil {
		return err
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", ErrDocumentExists, documentID)
	}

	vecs, err := x.embed(ctx, texts)
	if err != nil {
		return err
	}

	points := make([]*qdrant.PointStruct, 0, len(passages))
	for i, p := range passages {
		p.DocumentID = documentID
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(documentID, p.ChunkIndex)),
			Vectors: qdrant.NewVectors(vecs[i]...),
			Payload: qdrant.NewValueMap(passagePayload(p)),
		})
	}

	_, err = x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to upsert points", "collection", x.collection, "count", len(points), "error", err)
		return fmt.Errorf("failed to upsert points: %w", err)
	}

	logger.InfoContext(ctx, "upserted points", "collection", x.collection, "document_id", documentID, "count", len(points))
	return nil
}

// Search queries the collection with an optional document filter.
func (x *QdrantIndex) Search(ctx context.Context, query string, opts SearchOptions) ([]Hit, error) {
	logger := contextutil.LoggerFromContext(ctx)

	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	vecs, err := x.embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}

	limit := uint64(topK)
	scored, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(vecs[0]...),
		Limit:          &limit,
		Filter:         documentFilter(opts.DocumentIDs...),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to search points", "collection", x.collection, "k", topK, "error", err)
		return nil, fmt.Errorf("failed to search points: %w", err)
	}

	hits := make([]Hit, 0, len(scored))
	for _, sp := range scored {
		p := passageFromPayload(convertPayloadToMap(sp.GetPayload()))
		if p.Tombstoned() {
			continue
		}
		hits = append(hits, Hit{Row: -1, Passage: p, Score: float64(sp.GetScore())})
	}
	return hits, nil
}

// Delete removes every point of the document.
func (x *QdrantIndex) Delete(ctx context.Context, documentID string) (bool, error) {
	logger := contextutil.LoggerFromContext(ctx)

	filter := documentFilter(documentID)
	n, err := x.count(ctx, filter)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	_, err = x.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: x.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete points: %w", err)
	}

	logger.InfoContext(ctx, "deleted points", "collection", x.collection, "document_id", documentID, "count", n)
	return true, nil
}

// Stats reports the point count. Document counts are kept by the catalog.
func (x *QdrantIndex) Stats(ctx context.Context) (Stats, error) {
	n, err := x.count(ctx, nil)
	if err != nil {
		return Stats{}, err
	}
	return Stats{Dim: x.dim, Rows: n, Live: n}, nil
}

// Close releases the gRPC connection.
func (x *QdrantIndex) Close() error {
	return x.client.Close()
}

func passagePayload(p paper.Passage) map[string]any {
	return map[string]any{
		"document_id":         p.DocumentID,
		"text":                p.Text,
		"page_number":         int64(p.PageNumber),
		"chunk_index":         int64(p.ChunkIndex),
		"section":             p.Section,
		"section_type":        string(p.SectionType),
		"semantic_density":    p.SemanticDensity,
		"contains_citation":   p.Flags.Citation,
		"contains_equation":   p.Flags.Equation,
		"contains_table_ref":  p.Flags.TableRef,
		"contains_figure_ref": p.Flags.FigureRef,
		"title":               p.Title,
		"year":                int64(p.Year),
	}
}

func passageFromPayload(m map[string]any) paper.Passage {
	str := func(k string) string {
		s, _ := m[k].(string)
		return s
	}
	num := func(k string) int {
		switch v := m[k].(type) {
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
		return 0
	}
	flag := func(k string) bool {
		b, _ := m[k].(bool)
		return b
	}
	density, _ := m["semantic_density"].(float64)

	return paper.Passage{
		DocumentID:      str("document_id"),
		Text:            str("text"),
		PageNumber:      num("page_number"),
		ChunkIndex:      num("chunk_index"),
		Section:         str("section"),
		SectionType:     paper.SectionType(str("section_type")),
		SemanticDensity: density,
		Flags: paper.Flags{
			Citation:  flag("contains_citation"),
			Equation:  flag("contains_equation"),
			TableRef:  flag("contains_table_ref"),
			FigureRef: flag("contains_figure_ref"),
		},
		Title: str("title"),
		Year:  num("year"),
	}
}

// convertPayloadToMap converts Qdrant payload to map[string]any.
func convertPayloadToMap(payload map[string]*qdrant.Value) map[string]any {
	result := make(map[string]any, len(payload))
	for k, v := range payload {
		if v == nil {
			continue
		}
		result[k] = convertValue(v)
	}
	return result
}

// convertValue converts a Qdrant Value to Go any type.
func convertValue(v *qdrant.Value) any {
	switch val := v.Kind.(type) {
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_ListValue:
		list := make([]any, len(val.ListValue.Values))
		for i, item := range val.ListValue.Values {
			list[i] = convertValue(item)
		}
		return list
	case *qdrant.Value_StructValue:
		return convertPayloadToMap(val.StructValue.Fields)
	default:
		return nil
	}
}
