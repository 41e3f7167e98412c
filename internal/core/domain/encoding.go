package domain

import "strings"

// mojibakeReplacer undoes the classic UTF-8-read-as-Latin-1 corruption found
// in part of the ingested corpus. Stored rows are never rewritten; repair
// happens on every read path instead.
var mojibakeReplacer = strings.NewReplacer(
	"Ã¡", "á",
	"Ã©", "é",
	"Ã­", "í",
	"Ã³", "ó",
	"Ãº", "ú",
	"Ã±", "ñ",
	"Ã", "Á",
	"Ã‰", "É",
	"Ã", "Í",
	"Ã“", "Ó",
	"Ãš", "Ú",
	"Ã‘", "Ñ",
	"Ã¼", "ü",
	"â€œ", "“",
	"â€", "”",
	"â€™", "’",
	"â€˜", "‘",
	"â€“", "–",
	"Â¿", "¿",
	"Â¡", "¡",
	"Âº", "º",
	"Âª", "ª",
)

// RepairText fixes mojibake sequences in text read from storage. Clean text
// passes through untouched.
func RepairText(s string) string {
	if !strings.Contains(s, "Ã") && !strings.Contains(s, "â€") && !strings.Contains(s, "Â") {
		return s
	}
	return mojibakeReplacer.Replace(s)
}
