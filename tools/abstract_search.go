package tools

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type abstractSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results,omitempty"`
}

// Abstract is one PubMed citation returned by abstract_search.
type Abstract struct {
	PMID     string `json:"pmid"`
	Title    string `json:"title"`
	Summary  string `json:"summary,omitempty"`
	Journal  string `json:"journal,omitempty"`
	PubDate  string `json:"pubDate,omitempty"`
	URL      string `json:"url"`
}

type AbstractSearchResponse struct {
	Query     string     `json:"query"`
	Count     int        `json:"count"`
	Abstracts []Abstract `json:"abstracts"`
}

type esearchResult struct {
	IDList struct {
		IDs []string `xml:"Id"`
	} `xml:"IdList"`
}

type esummaryResult struct {
	DocSums []struct {
		ID    string `xml:"Id"`
		Items []struct {
			Name  string `xml:"Name,attr"`
			Value string `xml:",chardata"`
		} `xml:"Item"`
	} `xml:"DocSum"`
}

func NewAbstractSearch() Tool {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "PubMed search terms, e.g. 'metformin cardiovascular outcomes'.",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Maximum number of abstracts to return (1-20, default 5).",
			},
		},
		"required": []string{"query"},
	}

	return NewFuncTool(
		"abstract_search",
		"Search PubMed for biomedical literature abstracts matching a query.",
		schema,
		func(ctx context.Context, args json.RawMessage) (any, error) {
			var in abstractSearchArgs
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("invalid abstract_search args: %w", err)
			}
			query := strings.TrimSpace(in.Query)
			if query == "" {
				return nil, fmt.Errorf("query is required")
			}
			max := in.MaxResults
			if max <= 0 {
				max = 5
			}
			if max > 20 {
				max = 20
			}
			return runAbstractSearch(ctx, query, max)
		},
	)
}

const pubmedBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

// runAbstractSearch follows the standard E-utilities two-step flow:
// esearch resolves a query to a list of PMIDs, esummary fetches their
// citation metadata. Both endpoints are XML; decoded with stdlib
// encoding/xml since the teacher's gojsonschema/jsonparser stack is
// JSON-only and pulling in a dedicated XML library for two small,
// fixed response shapes from a single government API isn't warranted.
func runAbstractSearch(ctx context.Context, query string, max int) (*AbstractSearchResponse, error) {
	ids, err := pubmedSearch(ctx, query, max)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return &AbstractSearchResponse{Query: query, Count: 0, Abstracts: []Abstract{}}, nil
	}
	abstracts, err := pubmedSummaries(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &AbstractSearchResponse{Query: query, Count: len(abstracts), Abstracts: abstracts}, nil
}

func pubmedSearch(ctx context.Context, query string, max int) ([]string, error) {
	endpoint := fmt.Sprintf("%s/esearch.fcgi?db=pubmed&retmode=xml&retmax=%d&term=%s",
		pubmedBase, max, url.QueryEscape(query))
	body, err := pubmedGet(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var res esearchResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse esearch response: %w", err)
	}
	return res.IDList.IDs, nil
}

func pubmedSummaries(ctx context.Context, ids []string) ([]Abstract, error) {
	endpoint := fmt.Sprintf("%s/esummary.fcgi?db=pubmed&retmode=xml&id=%s",
		pubmedBase, url.QueryEscape(strings.Join(ids, ",")))
	body, err := pubmedGet(ctx, endpoint)
	if err != nil {
		return nil, err
	}
	var res esummaryResult
	if err := xml.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("parse esummary response: %w", err)
	}

	out := make([]Abstract, 0, len(res.DocSums))
	for _, doc := range res.DocSums {
		a := Abstract{
			PMID: doc.ID,
			URL:  "https://pubmed.ncbi.nlm.nih.gov/" + doc.ID + "/",
		}
		for _, item := range doc.Items {
			switch item.Name {
			case "Title":
				a.Title = strings.TrimSpace(item.Value)
			case "FullJournalName", "Source":
				if a.Journal == "" {
					a.Journal = strings.TrimSpace(item.Value)
				}
			case "PubDate":
				a.PubDate = strings.TrimSpace(item.Value)
			}
		}
		out = append(out, a)
	}
	return out, nil
}

func pubmedGet(ctx context.Context, endpoint string) ([]byte, error) {
	client := &http.Client{Timeout: 20 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "deepmedical-core/1.0 (abstract_search tool)")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pubmed request failed with HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 2*1024*1024))
}
