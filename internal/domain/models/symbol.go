package models

// SymbolRecord is one catalog row.
type SymbolRecord struct {
	ID   int64          `json:"symbol_id"`
	Name string         `json:"symbol_name"`
	Kind string         `json:"kind"`
	Data map[string]any `json:"symbol_data"`
}
