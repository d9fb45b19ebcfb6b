package vecrank

import (
	dombatch "github.com/kailas-cloud/vecrank/internal/domain/batch"
	domchunk "github.com/kailas-cloud/vecrank/internal/domain/chunk"
	domindex "github.com/kailas-cloud/vecrank/internal/domain/index"
	searchuc "github.com/kailas-cloud/vecrank/internal/usecase/search"
)

func searchResponseFromDomain(r *searchuc.Response) SearchResponse {
	hits := make([]Hit, 0, len(r.Results))
	for i := range r.Results {
		res := &r.Results[i]
		signals := make([]Signal, 0, len(res.Signals()))
		for _, s := range res.Signals() {
			signals = append(signals, Signal(s))
		}
		hits = append(hits, Hit{
			ID:         res.ID(),
			Content:    res.Content(),
			Metadata:   res.Metadata(),
			Similarity: res.Similarity(),
			Score:      res.CombinedScore(),
			Signals:    signals,
		})
	}
	return SearchResponse{
		Hits:      hits,
		Count:     r.Count,
		Total:     r.Total,
		FromCache: r.FromCache,
		Took:      r.ResponseTime,
		RequestID: r.RequestID,
	}
}

func chunkInfoFromDomain(c *domchunk.Chunk) ChunkInfo {
	return ChunkInfo{
		ID:         c.ID(),
		Content:    c.Content(),
		Metadata:   c.Metadata(),
		Dimensions: len(c.Embedding()),
		Version:    c.Version(),
		UpdatedAt:  c.UpdatedAt(),
	}
}

func indexInfoFromDomain(s domindex.State) IndexInfo {
	return IndexInfo{
		Name:      s.Name,
		Exists:    s.Exists,
		Requested: IndexKind(s.Requested),
		Active:    IndexKind(s.Active),
		Fallback:  s.Fallback,
		NumDocs:   s.NumDocs,
		Indexing:  s.Indexing,
	}
}

func fromBatchResults(results []dombatch.Result) []BatchResult {
	out := make([]BatchResult, len(results))
	for i, r := range results {
		out[i] = BatchResult{
			ID:      r.ID(),
			OK:      r.Status() == dombatch.StatusOK,
			Version: r.Version(),
			Err:     r.Err(),
		}
	}
	return out
}
