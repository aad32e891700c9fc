package order

var progress = map[Status]int{
	StatusPending:    0,
	StatusAccepted:   20,
	StatusPreparing:  40,
	StatusReady:      60,
	StatusDispatched: 80,
	StatusDelivered:  100,
}

var labels = map[Status]string{
	StatusPending:    "Awaiting confirmation",
	StatusAccepted:   "Confirmed",
	StatusPreparing:  "Preparing",
	StatusReady:      "Ready",
	StatusDispatched: "Out for delivery",
	StatusDelivered:  "Delivered",
	StatusRejected:   "Rejected",
	StatusCancelled:  "Cancelled",
}

var colorClasses = map[Status]string{
	StatusPending:    "bg-yellow-100 text-yellow-800 border-yellow-200",
	StatusAccepted:   "bg-green-100 text-green-800 border-green-200",
	StatusPreparing:  "bg-blue-100 text-blue-800 border-blue-200",
	StatusReady:      "bg-green-100 text-green-800 border-green-200",
	StatusDispatched: "bg-purple-100 text-purple-800 border-purple-200",
	StatusDelivered:  "bg-green-100 text-green-800 border-green-200",
	StatusRejected:   "bg-red-100 text-red-800 border-red-200",
	StatusCancelled:  "bg-red-100 text-red-800 border-red-200",
}

const unknownColorClass = "bg-gray-100 text-gray-800 border-gray-200"

// ProgressPercentage reports how far along the delivery path status is.
// Rejected and cancelled orders have no progress.
func ProgressPercentage(status Status) (int, bool) {
	p, ok := progress[status]
	return p, ok
}

// Label returns the display label, or the raw status when unknown.
func Label(status Status) string {
	if l, ok := labels[status]; ok {
		return l
	}
	return string(status)
}

func ColorClass(status Status) string {
	if c, ok := colorClasses[status]; ok {
		return c
	}
	return unknownColorClass
}

// EstimateVisible reports whether the preparation estimate is still meaningful.
func EstimateVisible(status Status) bool {
	return status == StatusAccepted || status == StatusPreparing
}

type StatusView struct {
	Status     Status `json:"status"`
	Label      string `json:"label"`
	ColorClass string `json:"color_class"`
	Progress   *int   `json:"progress,omitempty"`
	Terminal   bool   `json:"terminal"`
}

func Describe(status Status) StatusView {
	view := StatusView{
		Status:     status,
		Label:      Label(status),
		ColorClass: ColorClass(status),
		Terminal:   status.Terminal(),
	}
	if p, ok := ProgressPercentage(status); ok {
		view.Progress = &p
	}
	return view
}
