// Package structure looks up proteins in UniProt and their predicted
// structures in the AlphaFold database.
package structure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jonathan/ciencia/internal/types"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultUniProtURL   = "https://rest.uniprot.org"
	DefaultAlphaFoldURL = "https://alphafold.ebi.ac.uk"

	// MaxSearchResults caps how many reviewed entries a gene search returns.
	MaxSearchResults = 5

	maxBodyBytes = 64 << 20
)

var (
	ErrGeneNotFound = errors.New("gene not found in UniProt")
	ErrNoPrediction = errors.New("no AlphaFold prediction")
)

// Client queries UniProt and AlphaFold DB over HTTP.
type Client struct {
	httpClient   *http.Client
	uniprotURL   string
	alphafoldURL string
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.httpClient = hc } }
func WithUniProtURL(u string) Option      { return func(c *Client) { c.uniprotURL = strings.TrimRight(u, "/") } }
func WithAlphaFoldURL(u string) Option    { return func(c *Client) { c.alphafoldURL = strings.TrimRight(u, "/") } }

// NewClient creates a client against the public endpoints unless overridden.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		uniprotURL:   DefaultUniProtURL,
		alphafoldURL: DefaultAlphaFoldURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type uniprotSearch struct {
	Results []struct {
		PrimaryAccession   string `json:"primaryAccession"`
		ProteinDescription struct {
			RecommendedName struct {
				FullName struct {
					Value string `json:"value"`
				} `json:"fullName"`
			} `json:"recommendedName"`
		} `json:"proteinDescription"`
		Organism struct {
			ScientificName string `json:"scientificName"`
		} `json:"organism"`
	} `json:"results"`
}

// SearchGene returns up to MaxSearchResults reviewed UniProt entries for a gene name.
func (c *Client) SearchGene(ctx context.Context, gene string) ([]types.ProteinHit, error) {
	gene = strings.TrimSpace(gene)
	if gene == "" {
		return nil, fmt.Errorf("gene name is empty")
	}

	q := url.Values{}
	q.Set("query", fmt.Sprintf("gene:%s AND reviewed:true", gene))
	q.Set("format", "json")
	q.Set("size", fmt.Sprint(MaxSearchResults))

	var body uniprotSearch
	if err := c.getJSON(ctx, c.uniprotURL+"/uniprotkb/search?"+q.Encode(), &body); err != nil {
		return nil, fmt.Errorf("failed to search UniProt for %s: %w", gene, err)
	}
	if len(body.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrGeneNotFound, gene)
	}

	hits := make([]types.ProteinHit, 0, min(len(body.Results), MaxSearchResults))
	for _, entry := range body.Results[:min(len(body.Results), MaxSearchResults)] {
		hits = append(hits, types.ProteinHit{
			UniprotID:   entry.PrimaryAccession,
			ProteinName: orUnknown(entry.ProteinDescription.RecommendedName.FullName.Value),
			GeneName:    gene,
			Organism:    orUnknown(entry.Organism.ScientificName),
		})
	}
	return hits, nil
}

// Prediction fetches the AlphaFold metadata for a UniProt accession and then its PDB file.
func (c *Client) Prediction(ctx context.Context, uniprotID string) (*types.StructurePrediction, error) {
	uniprotID = strings.TrimSpace(uniprotID)
	if uniprotID == "" {
		return nil, fmt.Errorf("uniprot id is empty")
	}

	var entries []map[string]any
	err := c.getJSON(ctx, c.alphafoldURL+"/api/prediction/"+url.PathEscape(uniprotID), &entries)
	var status *StatusError
	if errors.As(err, &status) && status.Code == http.StatusNotFound {
		return nil, fmt.Errorf("%w for %s", ErrNoPrediction, uniprotID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch AlphaFold metadata for %s: %w", uniprotID, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w for %s", ErrNoPrediction, uniprotID)
	}

	meta := entries[0]
	pdbURL, _ := meta["pdbUrl"].(string)
	if pdbURL == "" {
		return nil, fmt.Errorf("AlphaFold metadata for %s has no pdbUrl", uniprotID)
	}

	pdb, err := c.get(ctx, pdbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download PDB for %s: %w", uniprotID, err)
	}

	return &types.StructurePrediction{
		UniprotID: uniprotID,
		PDBData:   string(pdb),
		Metadata:  meta,
	}, nil
}

// Predictions fetches several predictions concurrently, at most limit at a time.
// The first failure cancels the remaining lookups.
func (c *Client) Predictions(ctx context.Context, ids []string, limit int) ([]*types.StructurePrediction, error) {
	out := make([]*types.StructurePrediction, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			p, err := c.Prediction(ctx, id)
			if err != nil {
				return err
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// StatusError is a non-2xx response from an upstream service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("HTTP %d", e.Code)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Code, e.Body)
}

func (c *Client) getJSON(ctx context.Context, u string, dst any) error {
	data, err := c.get(ctx, u)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(truncate(string(data), 200))}
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
