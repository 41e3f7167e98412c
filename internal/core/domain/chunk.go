package domain

// Chunk is the unit of semantic retrieval: a short contiguous span of a
// document with stable page/paragraph provenance. Chunks are immutable once
// indexed.
type Chunk struct {
	ChunkID       string  `json:"chunk_id"`
	DocumentoID   string  `json:"documento_id"`
	NombreArchivo string  `json:"nombre_archivo"`
	Pagina        int     `json:"pagina"`
	Parrafo       int     `json:"parrafo"`
	TextoChunk    string  `json:"texto_chunk"`
	TipoDocumento string  `json:"tipo_documento,omitempty"`
	NUC           string  `json:"nuc,omitempty"`
	LugaresChunk  string  `json:"lugares_chunk,omitempty"`
	PosicionEnDoc int     `json:"posicion_en_doc,omitempty"`
	Relevancia    float64 `json:"relevancia"`
}

// DocumentHit is one result from the document-level index; it supplies the
// per-document analytical summary shown alongside chunk evidence.
type DocumentHit struct {
	ID            string  `json:"id"`
	Archivo       string  `json:"archivo"`
	NUC           string  `json:"metadatos_nuc,omitempty"`
	TipoDocumento string  `json:"tipo_documento,omitempty"`
	LugaresHechos string  `json:"lugares_hechos,omitempty"`
	Analisis      string  `json:"analisis,omitempty"`
	Relevancia    float64 `json:"relevancia"`
}

// ChunkSearchResult reports retrieval output together with the degradation
// flag: LexicalOnly is set when the embedding call failed or the index has
// vectors disabled, and the answer method becomes textual_fallback.
type ChunkSearchResult struct {
	Chunks      []Chunk `json:"chunks"`
	LexicalOnly bool    `json:"lexical_only"`
}

type SearchHealth struct {
	IndexAvailable bool  `json:"index_available"`
	VectorEnabled  bool  `json:"vector_enabled"`
	TotalDocs      int64 `json:"total_docs"`
}
