package domain

import "testing"

func TestNormalizeArchivo(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Sentencia 001.pdf", "sentencia001"},
		{"sentencia001.json", "sentencia001"},
		{"sentencia001_batch_resultado_1712345678.json", "sentencia001"},
		{"  SENTENCIA 001.PDF ", "sentencia001"},
		{"auto_interlocutorio", "auto_interlocutorio"},
	}
	for _, tc := range cases {
		if got := NormalizeArchivo(tc.in); got != tc.want {
			t.Errorf("NormalizeArchivo(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
