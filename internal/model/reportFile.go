package model

// ReportFile is a generated report. Link is empty when the file was not uploaded.
type ReportFile struct {
	Name    string
	Content []byte
	Link    string
}
