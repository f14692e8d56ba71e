package models

const (
	MergeOK      = "ok"
	MergeWarning = "warning"
)

// MergeDetail explains one overlap mismatch.
type MergeDetail struct {
	Msg      string     `json:"msg"`
	DiffRows int        `json:"diff_rows,omitempty"`
	OldRows  int        `json:"old_rows,omitempty"`
	NewRows  int        `json:"new_rows,omitempty"`
	OldRange [2]float64 `json:"old_range,omitempty"`
	NewRange [2]float64 `json:"new_range,omitempty"`
}

// MergeReport is returned by every series append.
type MergeReport struct {
	Status   string        `json:"status"`
	Message  string        `json:"message"`
	Symbol   string        `json:"symbol"`
	Interval string        `json:"interval"`
	Details  []MergeDetail `json:"details,omitempty"`
}

func (r *MergeReport) OK() bool { return r.Status == MergeOK }
