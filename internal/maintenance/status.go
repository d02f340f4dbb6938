package maintenance

type Status string

const (
	StatusPending             Status = "PENDING"
	StatusQuotePending        Status = "QUOTE_PENDING"
	StatusQuoteApproved       Status = "QUOTE_APPROVED"
	StatusAssigned            Status = "ASSIGNED"
	StatusPendingConfirmation Status = "PENDING_CONFIRMATION"
	StatusCompleted           Status = "COMPLETED"
	StatusCancelled           Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:             {StatusQuotePending, StatusAssigned, StatusCancelled},
	StatusQuotePending:        {StatusQuoteApproved, StatusCancelled},
	StatusQuoteApproved:       {StatusAssigned, StatusCancelled},
	StatusAssigned:            {StatusPendingConfirmation, StatusCancelled},
	StatusPendingConfirmation: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from -> to is an edge of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok || s.Terminal()
}
