package domain

// Ref is a JSON reference to another catalog record, e.g.
// {"$ref": "https://inspirehep.net/api/journals/1936475"}.
type Ref struct {
	Ref string `json:"$ref,omitempty"`
}

type Title struct {
	Title  string `json:"title,omitempty"`
	Source string `json:"source,omitempty"`
}

type InspireCategory struct {
	Term string `json:"term"`
}

type PublicationInfo struct {
	JournalTitle  string `json:"journal_title,omitempty"`
	JournalRecord *Ref   `json:"journal_record,omitempty"`
	JournalVolume string `json:"journal_volume,omitempty"`
	CNum          string `json:"cnum,omitempty"`
	ArtID         string `json:"artid,omitempty"`
	PageStart     string `json:"page_start,omitempty"`
	Year          int    `json:"year,omitempty"`
}

type Collaboration struct {
	Value  string `json:"value"`
	Record *Ref   `json:"record,omitempty"`
}

type AcceleratorExperiment struct {
	Record     *Ref   `json:"record,omitempty"`
	LegacyName string `json:"legacy_name,omitempty"`
}

type AuthorID struct {
	Schema string `json:"schema"`
	Value  string `json:"value"`
}

type RawAffiliation struct {
	Value string `json:"value"`
}

type Affiliation struct {
	Value  string `json:"value"`
	Record *Ref   `json:"record,omitempty"`
}

type Author struct {
	FullName        string           `json:"full_name,omitempty"`
	IDs             []AuthorID       `json:"ids,omitempty"`
	RawAffiliations []RawAffiliation `json:"raw_affiliations,omitempty"`
	Affiliations    []Affiliation    `json:"affiliations,omitempty"`
}

// ReferenceFields is the inner "reference" object of a citation entry.
// Its publication_info is a single object, unlike the record-level list.
type ReferenceFields struct {
	PublicationInfo *PublicationInfo `json:"publication_info,omitempty"`
	Misc            []string         `json:"misc,omitempty"`
}

type Reference struct {
	Reference *ReferenceFields `json:"reference,omitempty"`
}

type Keyword struct {
	Value  string `json:"value"`
	Schema string `json:"schema,omitempty"`
	Source string `json:"source,omitempty"`
}

// AcquisitionSource records where and how a document entered the system.
type AcquisitionSource struct {
	Source   string `json:"source,omitempty"`
	Method   string `json:"method,omitempty"`
	Email    string `json:"email,omitempty"`
	Datetime string `json:"datetime,omitempty"`
}

// Record is the mutable bibliographic document driven through the
// enrichment pipeline. Optional list fields use omitempty so an empty
// resolution leaves no field behind rather than an empty list.
type Record struct {
	ControlNumber          int64                   `json:"control_number,omitempty"`
	Collections            []string                `json:"_collections,omitempty"`
	AcquisitionSource      *AcquisitionSource      `json:"acquisition_source,omitempty"`
	Titles                 []Title                 `json:"titles,omitempty"`
	DocumentType           []string                `json:"document_type,omitempty"`
	Core                   bool                    `json:"core,omitempty"`
	InspireCategories      []InspireCategory       `json:"inspire_categories,omitempty"`
	AcceleratorExperiments []AcceleratorExperiment `json:"accelerator_experiments,omitempty"`
	PublicationInfo        []PublicationInfo       `json:"publication_info,omitempty"`
	Collaborations         []Collaboration         `json:"collaborations,omitempty"`
	Authors                []Author                `json:"authors,omitempty"`
	References             []Reference             `json:"references,omitempty"`
	Keywords               []Keyword               `json:"keywords,omitempty"`
}
