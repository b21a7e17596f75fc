package arxiv

import (
	"strings"
	"time"
)

// Feed ist die Top-Level-Struktur der Atom-Antwort.
type Feed struct {
	TotalResults int     `xml:"http://a9.com/-/spec/opensearch/1.1/ totalResults"`
	Entries      []Entry `xml:"entry"`
}

// Entry repräsentiert ein einzelnes Paper in der Atom-Antwort.
type Entry struct {
	ID         string     `xml:"id"`
	Title      string     `xml:"title"`
	Summary    string     `xml:"summary"`
	Published  string     `xml:"published"`
	Authors    []Author   `xml:"author"`
	Categories []Category `xml:"category"`
	Links      []Link     `xml:"link"`
	DOI        string     `xml:"http://arxiv.org/schemas/atom doi"`
	JournalRef string     `xml:"http://arxiv.org/schemas/atom journal_ref"`
}

// Author repräsentiert einen Autor-Eintrag.
type Author struct {
	Name string `xml:"name"`
}

// Category repräsentiert eine Fachkategorie (z.B. q-bio.NC).
type Category struct {
	Term string `xml:"term,attr"`
}

// Link repräsentiert einen Link-Eintrag der Atom-Antwort.
type Link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Title string `xml:"title,attr"`
	Type  string `xml:"type,attr"`
}

// entryID extrahiert die Quell-ID aus der Atom-ID
// (http://arxiv.org/abs/2401.12345v2 -> 2401.12345v2).
func entryID(atomID string) string {
	if _, after, ok := strings.Cut(atomID, "/abs/"); ok {
		return after
	}
	return atomID
}

// Hilfsfunktion zum sicheren Parsen des Publikationsdatums.
func parsePublished(dateStr string) *time.Time {
	t, err := time.Parse(time.RFC3339, dateStr)
	if err != nil {
		return nil
	}
	return &t
}
