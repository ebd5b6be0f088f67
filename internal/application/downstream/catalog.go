package downstream

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rezkam/mono/internal/domain"
)

// itemCatalogKey is the well-known blob-store key an upstream WorkItem's
// single-page result catalog is written to (spec §6).
func itemCatalogKey(jobID, itemID string) string {
	return fmt.Sprintf("%s/%s/outputs/catalog.json", jobID, itemID)
}

// aggregateOutputPrefix is where an aggregating WorkItem's paginated
// catalogs live (spec §6: "Aggregating items additionally read a
// <artifactBucket>/<jobID>/aggregate-<itemID>/outputs/ tree").
func aggregateOutputPrefix(jobID, aggregatingItemID string) string {
	return fmt.Sprintf("%s/aggregate-%s/outputs/", jobID, aggregatingItemID)
}

// writeItemCatalog persists the standard single-page STAC catalog for one
// completed WorkItem's results, the "catalog at .../<itemID>/outputs/
// catalog.json" artifact spec §6 describes for every upstream item. This
// is what downstream generation later reads back when concatenating
// results for non-batched aggregation (spec §4.3).
func writeItemCatalog(ctx context.Context, bs domain.BlobStore, jobID, itemID string, results []string) (string, error) {
	key := itemCatalogKey(jobID, itemID)
	cat := domain.Catalog{
		StacVersion: "1.0.0",
		ID:          itemID,
		Description: "work item output catalog",
		Links:       itemLinks(results),
	}
	if err := putCatalog(ctx, bs, key, cat); err != nil {
		return "", err
	}
	return bs.URL(key), nil
}

func itemLinks(hrefs []string) []domain.CatalogLink {
	links := make([]domain.CatalogLink, 0, len(hrefs))
	for _, href := range hrefs {
		links = append(links, domain.CatalogLink{Rel: "item", Href: href})
	}
	return links
}

func putCatalog(ctx context.Context, bs domain.BlobStore, key string, cat domain.Catalog) error {
	data, err := json.Marshal(cat)
	if err != nil {
		return fmt.Errorf("failed to marshal catalog %s: %w", key, err)
	}
	if err := putWithRetry(ctx, bs, key, data); err != nil {
		return fmt.Errorf("failed to write catalog %s: %w", key, err)
	}
	return nil
}

// readItemHrefs reads back one completed WorkItem's result catalog and
// returns its item hrefs, following rel="next" sibling pages until
// exhausted. A catalog whose next link points to an already-visited key
// is treated as a terminator rather than recursed into (spec §9, "circular
// catalog parsing").
func readItemHrefs(ctx context.Context, bs domain.BlobStore, jobID, itemID string) ([]string, error) {
	var hrefs []string
	visited := map[string]bool{}
	key := itemCatalogKey(jobID, itemID)

	for key != "" {
		if visited[key] {
			break
		}
		visited[key] = true

		data, err := getWithRetry(ctx, bs, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read catalog %s: %w", key, err)
		}
		var cat domain.Catalog
		if err := json.Unmarshal(data, &cat); err != nil {
			return nil, fmt.Errorf("failed to parse catalog %s: %w", key, err)
		}
		hrefs = append(hrefs, cat.ItemHrefs()...)

		next, ok := cat.NextHref()
		if !ok {
			break
		}
		key = next
	}
	return hrefs, nil
}

// writePaginatedCatalogs splits hrefs into pages of at most maxPageSize
// items and writes catalog0.json..catalogN-1.json under prefix, linking
// consecutive pages with rel="prev"/"next" (spec §4.3, §6). Returns the
// URL of catalog0, the entry point for the aggregating WorkItem.
func writePaginatedCatalogs(ctx context.Context, bs domain.BlobStore, prefix, id string, hrefs []string, maxPageSize int) (string, error) {
	if maxPageSize <= 0 {
		maxPageSize = len(hrefs)
	}
	if maxPageSize <= 0 {
		maxPageSize = 1
	}

	var pages [][]string
	for start := 0; start < len(hrefs); start += maxPageSize {
		end := start + maxPageSize
		if end > len(hrefs) {
			end = len(hrefs)
		}
		pages = append(pages, hrefs[start:end])
	}
	if len(pages) == 0 {
		pages = [][]string{nil}
	}

	keys := make([]string, len(pages))
	for i := range pages {
		keys[i] = fmt.Sprintf("%scatalog%d.json", prefix, i)
	}

	for i, page := range pages {
		cat := domain.Catalog{
			StacVersion: "1.0.0",
			ID:          fmt.Sprintf("%s-page%d", id, i),
			Description: "aggregated output catalog",
			Links:       itemLinks(page),
		}
		if i > 0 {
			cat.Links = append(cat.Links, domain.CatalogLink{Rel: "prev", Href: bs.URL(keys[i-1])})
		}
		if i < len(pages)-1 {
			cat.Links = append(cat.Links, domain.CatalogLink{Rel: "next", Href: bs.URL(keys[i+1])})
		}
		if err := putCatalog(ctx, bs, keys[i], cat); err != nil {
			return "", err
		}
	}

	return bs.URL(keys[0]), nil
}
