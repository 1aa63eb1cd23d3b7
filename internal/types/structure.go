package types

// ProteinHit is one UniProt search result
type ProteinHit struct {
	UniprotID   string `json:"uniprot_id"`
	ProteinName string `json:"protein_name"`
	GeneName    string `json:"gene_name"`
	Organism    string `json:"organism"`
}

// StructurePrediction is an AlphaFold model for one UniProt accession
type StructurePrediction struct {
	UniprotID string         `json:"uniprot_id"`
	PDBData   string         `json:"pdb_data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StructureSearchResponse is the response of POST /alphafold/search
type StructureSearchResponse struct {
	Success bool         `json:"success"`
	Results []ProteinHit `json:"results,omitempty"`
	Error   string       `json:"error,omitempty"`
}

// StructurePredictionResponse is the response of POST /alphafold/prediction
type StructurePredictionResponse struct {
	Success   bool           `json:"success"`
	PDBData   string         `json:"pdb_data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UniprotID string         `json:"uniprot_id,omitempty"`
	Error     string         `json:"error,omitempty"`
}
