package export

// Dataset defines tabular export content.
type Dataset struct {
	Headers []string
	Rows    []map[string]string
	// Widths optionally weights PDF columns; missing entries default to 1.
	Widths map[string]float64
}

func (d Dataset) weight(header string) float64 {
	if w, ok := d.Widths[header]; ok && w > 0 {
		return w
	}
	return 1
}
