package importer

import "testing"

// TestDetectFileFormat tests format detection from file extensions
func TestDetectFileFormat(t *testing.T) {
	cases := []struct {
		filename string
		want     FileFormat
	}{
		{"examples.csv", FormatCSV},
		{"examples.parquet", FormatParquet},
		{"examples.json", FormatJSON},
		{"examples.txt", FormatCSV},
		{"csv", FormatCSV},
	}
	for _, tc := range cases {
		if got := DetectFileFormat(tc.filename); got != tc.want {
			t.Errorf("DetectFileFormat(%q) = %s, want %s", tc.filename, got, tc.want)
		}
	}
}
