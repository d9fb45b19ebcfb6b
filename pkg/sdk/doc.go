// Package vecrank embeds the vecrank hybrid search engine in a Go program.
//
// A Client wires the same services the HTTP server uses: chunk ingestion, ranked
// search over a vector index with metadata filters, health checks and index admin.
//
//	client, _ := vecrank.New(ctx,
//	    vecrank.WithRedis("localhost:6379", ""),
//	    vecrank.WithEmbedder(myEmbedder),
//	    vecrank.WithDimensions(768),
//	)
//	defer client.Close()
//
//	_, _, _ = client.Upsert(ctx, vecrank.Chunk{
//	    ID:       "kb-1",
//	    Content:  "How to reset a password",
//	    Metadata: map[string]any{"department": "IT", "priority": 4},
//	})
//
//	resp, _ := client.Search(ctx, vecrank.Query{
//	    Text:       "password reset",
//	    Filters:    map[string]any{"department": "IT"},
//	    Department: "IT",
//	})
//	for _, h := range resp.Hits {
//	    fmt.Println(h.ID, h.Score)
//	}
//
// Deployments configured by YAML can pass WithConfigFile instead of individual options.
package vecrank
