package progress

type Status string

const (
	StatusIdle        Status = "idle"
	StatusUploading   Status = "uploading"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
)

// Progress is a transient snapshot of a running transfer. It is never persisted.
type Progress struct {
	Total       int     `json:"total"`
	Completed   int     `json:"completed"`
	CurrentItem string  `json:"current_item"`
	Percentage  float64 `json:"percentage"`
	Status      Status  `json:"status"`
}

type Func func(Progress)

func New(status Status, item string, completed, total int) Progress {
	return Progress{
		Total:       total,
		Completed:   completed,
		CurrentItem: item,
		Percentage:  Percentage(completed, total),
		Status:      status,
	}
}

func Percentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(completed) * 100 / float64(total)
}

// Emit calls fn when it is set.
func (f Func) Emit(p Progress) {
	if f != nil {
		f(p)
	}
}
