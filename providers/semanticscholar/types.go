package semanticscholar

// PaperResponse ist die Antwort des Graph-API auf eine Einzelabfrage.
type PaperResponse struct {
	PaperID       string `json:"paperId"`
	CitationCount *int   `json:"citationCount"`
	TLDR          *TLDR  `json:"tldr"`
	ExternalIDs   struct {
		DOI string `json:"DOI"`
	} `json:"externalIds"`
}

// TLDR ist die maschinell erzeugte Kurzzusammenfassung eines Papers.
type TLDR struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}
